package model

// LogoutTimeoutChoices are the allowed values for Identity.LogoutTimeoutHours.
// 0 means the session never expires by inactivity.
var LogoutTimeoutChoices = []int{0, 1, 24, 72, 168}

func ValidLogoutTimeout(hours int) bool {
	for _, h := range LogoutTimeoutChoices {
		if h == hours {
			return true
		}
	}
	return false
}

type Identity struct {
	UID                string `bson:"uid" json:"uid"`
	SocialNumber       string `bson:"socialNumber" json:"socialNumber"`
	Email              string `bson:"email" json:"email"`
	PublicKey          []byte `bson:"publicKey,omitempty" json:"publicKey,omitempty"`
	SessionToken       string `bson:"sessionToken,omitempty" json:"-"`
	LogoutTimeoutHours int    `bson:"logoutTimeoutHours" json:"logoutTimeoutHours"`
	LastActiveAt       int64  `bson:"lastActiveAt" json:"lastActiveAt"`
	CreatedAt          int64  `bson:"createdAt" json:"createdAt"`
}

// Envelope is one encrypted message unit plus routing metadata. The server
// never inspects Ciphertext; SenderPublicKey rides along so the recipient can
// decrypt without a separate key lookup. (SenderUID, ClientMessageID) is the
// idempotence key: a second append of the same pair is rejected.
type Envelope struct {
	ClientMessageID   string `json:"clientMessageId"`
	SenderUID         string `json:"senderUid"`
	RecipientUID      string `json:"recipientUid"`
	Ciphertext        []byte `json:"ciphertext"`
	Nonce             []byte `json:"nonce"`
	SenderPublicKey   []byte `json:"senderPublicKey"`
	IsAudio           bool   `json:"isAudio"`
	OriginalTimestamp int64  `json:"originalTimestamp"`
	ServerTimestamp   int64  `json:"serverTimestamp"`
}
