package types

// Target identifies where on the remote side the finished bytes belong
type Target struct {
	ContainerID string `cbor:"containerId" json:"containerId"` // production record
	GroupID     string `cbor:"groupId" json:"groupId"`         // media item within the record
	ItemID      string `cbor:"itemId" json:"itemId"`           // source slot within the media item
}

// Announcement begins a transfer
type Announcement struct {
	Target   Target `cbor:"target"`
	Filename string `cbor:"filename,omitempty"`
	Size     int64  `cbor:"size"`
}

// Completion finalizes a transfer with the digest of every chunk sent
type Completion struct {
	Digest string `cbor:"digest"` // hex SHA-256
}

// CompletionAck reports where the remote stored the bytes
type CompletionAck struct {
	Path string `cbor:"path"`
}

// AuthRequest presents the channel's session token to the remote
type AuthRequest struct {
	Token string `cbor:"token"`
}
