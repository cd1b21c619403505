package domain

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// EmailMessage is a fully composed outbound email.
type EmailMessage struct {
	To      string
	From    Address
	Subject string
	Text    string
	HTML    string
}
