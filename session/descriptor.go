// Package session manages cached, exclusively checked-out database
// sessions keyed by their full connection descriptor.
package session

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Default connection coordinates, applied by Normalize.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 1433
	DefaultDatabase = "master"
)

// Descriptor holds everything needed to establish one connection. Two
// descriptors differing in any field, password included, identify
// distinct sessions.
type Descriptor struct {
	Host     string
	Port     int
	Instance string
	Database string
	User     string
	Password string

	// Integrated selects OS authentication; User and Password are
	// ignored when set.
	Integrated bool

	// Encrypt is the driver encryption mode: "true", "false",
	// "disable" or "strict". Empty leaves the driver default.
	Encrypt string

	// TrustCert skips server certificate validation.
	TrustCert bool
}

// Key is the comparable cache identity of a descriptor. It carries the
// normalized field values verbatim, so sessions opened with different
// credentials to the same server never alias.
type Key struct {
	Host       string
	Port       int
	Instance   string
	Database   string
	User       string
	Password   string
	Integrated bool
	Encrypt    string
	TrustCert  bool
}

// Normalize fills defaulted fields and returns the result. The receiver
// is not modified. A named instance with no explicit port keeps port 0:
// the driver resolves the instance's dynamic port through SQL Browser
// only when the DSN names no port.
func (d Descriptor) Normalize() Descriptor {
	if d.Host == "" {
		d.Host = DefaultHost
	}
	if d.Port == 0 && d.Instance == "" {
		d.Port = DefaultPort
	}
	if d.Database == "" {
		d.Database = DefaultDatabase
	}
	return d
}

// Key returns the cache identity of the normalized descriptor.
func (d Descriptor) Key() Key {
	n := d.Normalize()
	return Key{
		Host:       n.Host,
		Port:       n.Port,
		Instance:   n.Instance,
		Database:   n.Database,
		User:       n.User,
		Password:   n.Password,
		Integrated: n.Integrated,
		Encrypt:    n.Encrypt,
		TrustCert:  n.TrustCert,
	}
}

// DSN renders the descriptor as a sqlserver:// connection URL for the
// driver. The password travels only here, never through logs.
func (d Descriptor) DSN() string {
	n := d.Normalize()

	host := n.Host
	if n.Port != 0 {
		host = net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
	}
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   host,
	}
	if n.Instance != "" {
		u.Path = n.Instance
	}
	if !n.Integrated && n.User != "" {
		u.User = url.UserPassword(n.User, n.Password)
	}

	q := url.Values{}
	q.Set("database", n.Database)
	q.Set("app name", "nusql")
	switch {
	case n.Encrypt != "":
		q.Set("encrypt", n.Encrypt)
	case n.TrustCert:
		q.Set("encrypt", "true")
	}
	if n.TrustCert {
		q.Set("trustservercertificate", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted renders the descriptor for logs, without the password.
func (d Descriptor) Redacted() string {
	n := d.Normalize()
	who := n.User
	if n.Integrated {
		who = "(integrated)"
	}
	target := n.Host
	if n.Port != 0 {
		target = net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
	}
	if n.Instance != "" {
		target += "\\" + n.Instance
	}
	return fmt.Sprintf("%s@%s/%s", who, target, n.Database)
}
