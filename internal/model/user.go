package model

import "time"

type UserType string

const (
	UserTypeUser  UserType = "user"
	UserTypeAdmin UserType = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ProfilePic   string    `json:"profile_pic,omitempty"`
	Type         UserType  `json:"type"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserPublic is the wire shape of a user. IsOnline is derived from the
// presence table at render time, never read from the store.
type UserPublic struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	ProfilePic string   `json:"profile_pic,omitempty"`
	Type       UserType `json:"type"`
	IsOnline   bool     `json:"is_online"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		Type:       u.Type,
	}
}
