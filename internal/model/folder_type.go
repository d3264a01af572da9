package model

// FolderType tags a folder with its role in the team hierarchy.
//
//	team
//	├── interviews
//	│   └── interview_batch (may nest interview_batch)
//	└── mentoring
//	    └── mentor_session (may nest mentor_session)
type FolderType string

const (
	FolderTypeTeam           FolderType = "team"
	FolderTypeInterviews     FolderType = "interviews"
	FolderTypeMentoring      FolderType = "mentoring"
	FolderTypeInterviewBatch FolderType = "interview_batch"
	FolderTypeMentorSession  FolderType = "mentor_session"
)

var allowedChildren = map[FolderType][]FolderType{
	FolderTypeTeam:           {FolderTypeInterviews, FolderTypeMentoring},
	FolderTypeInterviews:     {FolderTypeInterviewBatch},
	FolderTypeMentoring:      {FolderTypeMentorSession},
	FolderTypeInterviewBatch: {FolderTypeInterviewBatch},
	FolderTypeMentorSession:  {FolderTypeMentorSession},
}

// Valid reports whether t is one of the known folder types.
func (t FolderType) Valid() bool {
	_, ok := allowedChildren[t]
	return ok
}

// RequiresTeam reports whether folders of this type must carry a team id.
func (t FolderType) RequiresTeam() bool {
	return t == FolderTypeTeam
}

// IsLeaf reports whether t is a document-holding type.
func (t FolderType) IsLeaf() bool {
	return t == FolderTypeInterviewBatch || t == FolderTypeMentorSession
}

// CanContain reports whether a folder of type t may have a direct child of type child.
func (t FolderType) CanContain(child FolderType) bool {
	for _, c := range allowedChildren[t] {
		if c == child {
			return true
		}
	}
	return false
}

// AllowedChildren returns the child types a folder of type t may contain.
func (t FolderType) AllowedChildren() []FolderType {
	return append([]FolderType(nil), allowedChildren[t]...)
}
