package domain

type Contact struct {
	JID  string
	Name string
}
