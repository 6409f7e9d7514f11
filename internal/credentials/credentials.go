// Package credentials resolves the opaque credential references stored on
// targets into secrets. Secrets never touch the database or the run log.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"gopkg.in/yaml.v3"
)

// Secret is the material a transport needs to authenticate.
type Secret struct {
	Password   string `yaml:"password,omitempty"`
	PrivateKey string `yaml:"private_key,omitempty"`
	// PrivateKeyFile is read when PrivateKey is empty.
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
	Passphrase     string `yaml:"passphrase,omitempty"`

	// TLS material for container-runtime endpoints.
	CACertFile string `yaml:"ca_cert_file,omitempty"`
	CertFile   string `yaml:"cert_file,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty"`
}

// Key returns the private key bytes, reading PrivateKeyFile if needed.
func (s Secret) Key() ([]byte, error) {
	if s.PrivateKey != "" {
		return []byte(s.PrivateKey), nil
	}
	if s.PrivateKeyFile == "" {
		return nil, nil
	}
	return os.ReadFile(s.PrivateKeyFile)
}

// Resolver turns a credential reference into a secret.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Secret, error)
}

func notFound(ref string) error {
	return chaoserr.E(chaoserr.KindAuthentication, "credentials.Resolve", fmt.Sprintf("unknown credential ref %q", ref), nil)
}

// Static resolves from an in-memory map.
type Static map[string]Secret

func (s Static) Resolve(_ context.Context, ref string) (Secret, error) {
	sec, ok := s[ref]
	if !ok {
		return Secret{}, notFound(ref)
	}
	return sec, nil
}

// LoadFile reads a YAML file of the form
//
//	credentials:
//	  prod-ssh:
//	    private_key_file: /etc/chaos/id_ed25519
//	  lab-root:
//	    password: hunter2
func LoadFile(path string) (Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var doc struct {
		Credentials map[string]Secret `yaml:"credentials"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	if doc.Credentials == nil {
		return Static{}, nil
	}
	return Static(doc.Credentials), nil
}

// Env resolves refs of the form "env:NAME". The variable holds a password,
// or a PEM private key when it starts with "-----BEGIN".
type Env struct{}

func (Env) Resolve(_ context.Context, ref string) (Secret, error) {
	name, ok := strings.CutPrefix(ref, "env:")
	if !ok {
		return Secret{}, notFound(ref)
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return Secret{}, notFound(ref)
	}
	if strings.HasPrefix(v, "-----BEGIN") {
		return Secret{PrivateKey: v}, nil
	}
	return Secret{Password: v}, nil
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, ref string) (Secret, error) {
	var last error = notFound(ref)
	for _, r := range c {
		sec, err := r.Resolve(ctx, ref)
		if err == nil {
			return sec, nil
		}
		last = err
	}
	return Secret{}, last
}
