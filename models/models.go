package models

// User is one credential entry loaded at startup. The password is either
// plain text (the original data file format) or a bcrypt hash.
type User struct {
	Username string
	Password string
}

// Group is a statically configured named set of usernames sharing one
// conversation log.
type Group struct {
	ID      string
	Name    string
	Members []string
}
