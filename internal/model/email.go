package model

// EmailID is the mailbox-assigned UID. It is unique and order-comparable
// within a mailbox and serves as the primary key of the local cache.
type EmailID = uint32

// EmailSummary is the cached list-view representation of a message.
type EmailSummary struct {
	ID        EmailID
	FromName  string
	Subject   string
	Snippet   string
	DateEpoch int64
}

// EmailBody is the plain-text rendering of a message, stored 1:1 with its
// summary but populated independently.
type EmailBody struct {
	ID   EmailID
	Body string
}
