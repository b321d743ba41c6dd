package model

import "time"

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarID    string    `json:"avatar_id"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
}

// Label returns the name to render for the user: display name when set,
// username otherwise.
func (u *User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
