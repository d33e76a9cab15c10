package domain

// UserProfile directory entry; Identity is the phone number used as relay identity
type UserProfile struct {
	Identity string `json:"identifier"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}
