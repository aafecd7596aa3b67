package model

// UserIdentity describes a user as returned by the session store,
// the directory or the follow endpoints.
type UserIdentity struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Handle      string `json:"handle" yaml:"handle"`
	AvatarURL   string `json:"avatarUrl,omitempty" yaml:"avatarUrl,omitempty"`
}

func (u UserIdentity) Valid() bool {
	return u.ID != ""
}
