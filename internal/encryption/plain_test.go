package encryption

import (
	"bytes"
	"testing"

	"driveingest/internal/config"
)

func TestPlainEncryptor_RoundTrip(t *testing.T) {
	e := NewPlainEncryptor()
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("store")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(sealed.Bytes(), plainHeader) {
		t.Errorf("sealed output missing header: %q", sealed.Bytes())
	}

	dc, err := e.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var out bytes.Buffer
	if err := dc.Decrypt(&sealed, &out); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if out.String() != "store" {
		t.Errorf("Decrypt() = %q, want %q", out.String(), "store")
	}
}

func TestPlainDecryptionContext_RejectsForeignData(t *testing.T) {
	var out bytes.Buffer
	if err := (PlainDecryptionContext{}).Decrypt(bytes.NewReader([]byte("SQLite format 3")), &out); err == nil {
		t.Error("Decrypt() of unframed data should return error")
	}
	if err := (PlainDecryptionContext{}).Decrypt(bytes.NewReader([]byte("DI")), &out); err == nil {
		t.Error("Decrypt() of short data should return error")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantErr bool
	}{
		{name: "age", cfg: config.EncryptionConfig{Type: "age", PublicKeyPath: "a.pub", PrivateKeyPath: "a.key"}},
		{name: "default is age", cfg: config.EncryptionConfig{PublicKeyPath: "a.pub", PrivateKeyPath: "a.key"}},
		{name: "age without paths", cfg: config.EncryptionConfig{Type: "age"}, wantErr: true},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewEncryptorFromConfig() returned nil")
			}
		})
	}
}
