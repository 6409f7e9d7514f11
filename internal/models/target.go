package models

import "time"

// TargetType is the kind of infrastructure a chaos action is aimed at.
type TargetType string

const (
	TargetServer    TargetType = "server"
	TargetContainer TargetType = "container"
)

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	return t == TargetServer || t == TargetContainer
}

// TargetStatus is the last known reachability of a target.
type TargetStatus string

const (
	StatusUnknown TargetStatus = "unknown"
	StatusOnline  TargetStatus = "online"
	StatusOffline TargetStatus = "offline"
)

// AuthMethod selects how a server transport authenticates.
const (
	AuthKey      = "key"
	AuthPassword = "password"
)

// ServerConn describes how to reach a server over SSH.
type ServerConn struct {
	Host          string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port          int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username      string `json:"username" validate:"required"`
	CredentialRef string `json:"credential_ref" validate:"required"`
	AuthMethod    string `json:"auth_method,omitempty" validate:"omitempty,oneof=key password"`
}

// ContainerConn describes a container behind a container-runtime API.
type ContainerConn struct {
	Endpoint      string `json:"endpoint" validate:"required"`
	ContainerID   string `json:"container_id" validate:"required"`
	TLS           bool   `json:"tls,omitempty"`
	CredentialRef string `json:"credential_ref,omitempty" validate:"required_if=TLS true"`
}

// Target is a server or container that experiments can act on.
// Exactly one of Server or Container is set, matching Type.
type Target struct {
	ID            int            `json:"id"`
	Name          string         `json:"name"`
	Type          TargetType     `json:"type"`
	Server        *ServerConn    `json:"server,omitempty"`
	Container     *ContainerConn `json:"container,omitempty"`
	Status        TargetStatus   `json:"status"`
	LastCheckedAt *time.Time     `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Address returns a human readable location for logs.
func (t *Target) Address() string {
	switch {
	case t.Server != nil:
		return t.Server.Host
	case t.Container != nil:
		return t.Container.Endpoint + "/" + t.Container.ContainerID
	}
	return ""
}
