// Package plugin implements the host boundary: a JSON-lines protocol
// over a reader/writer pair, one request per line in, a stream of
// record lines out, terminated by a done or error line.
package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/ha1tch/nusql/pkg/errors"
	"github.com/ha1tch/nusql/pkg/value"
	"github.com/ha1tch/nusql/session"
)

// Operation names accepted on the wire.
const (
	OpHello    = "hello"
	OpConnect  = "connect"
	OpQuery    = "query"
	OpExec     = "exec"
	OpProfiles = "profiles"
	OpHistory  = "history"
)

// Request is one inbound call.
type Request struct {
	ID int64  `json:"id"`
	Op string `json:"op"`

	// Target selection: an inline descriptor wins over a profile name;
	// with neither, the default profile applies.
	Profile    string      `json:"profile,omitempty"`
	Descriptor *Descriptor `json:"descriptor,omitempty"`

	// Query source: inline text or a file path, exactly one.
	Query string `json:"query,omitempty"`
	File  string `json:"file,omitempty"`

	Params []Param `json:"params,omitempty"`

	// Limit caps the number of returned rows; 0 means unlimited.
	Limit int64 `json:"limit,omitempty"`

	// Term filters history results.
	Term string `json:"term,omitempty"`
}

// Descriptor is the wire form of a connection descriptor.
type Descriptor struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Instance   string `json:"instance,omitempty"`
	Database   string `json:"database,omitempty"`
	User       string `json:"user,omitempty"`
	Password   string `json:"password,omitempty"`
	Integrated bool   `json:"integrated,omitempty"`
	Encrypt    string `json:"encrypt,omitempty"`
	TrustCert  bool   `json:"trust_cert,omitempty"`
}

func (d *Descriptor) toSession() session.Descriptor {
	return session.Descriptor{
		Host:       d.Host,
		Port:       d.Port,
		Instance:   d.Instance,
		Database:   d.Database,
		User:       d.User,
		Password:   d.Password,
		Integrated: d.Integrated,
		Encrypt:    d.Encrypt,
		TrustCert:  d.TrustCert,
	}
}

// Param is one bound parameter. Value arrives as JSON; numbers decode
// through json.Number so integers survive the trip.
type Param struct {
	Name  string      `json:"name,omitempty"`
	Value interface{} `json:"value"`
}

// driverValue converts the decoded JSON value into something the driver
// can bind.
func (p Param) driverValue() interface{} {
	switch v := p.Value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}

type recordResponse struct {
	ID     int64         `json:"id"`
	Record *value.Record `json:"record"`
}

type doneBody struct {
	Rows     int64 `json:"rows"`
	Affected int64 `json:"affected"`
}

type doneResponse struct {
	ID   int64    `json:"id"`
	Done doneBody `json:"done"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	ID    int64     `json:"id"`
	Error errorBody `json:"error"`
}

// errorBodyFor renders a classified error for the wire. Unclassified
// errors surface as internal, never raw.
func errorBodyFor(err error) errorBody {
	code := errors.GetCode(err)
	if code == 0 {
		code = errors.ErrCodeInternal
	}
	msg := err.Error()
	var structured *errors.Error
	if errors.As(err, &structured) {
		msg = structured.Message
		if structured.Cause != nil {
			msg = fmt.Sprintf("%s: %v", structured.Message, structured.Cause)
		}
	}
	return errorBody{
		Kind:    string(code.Kind()),
		Code:    fmt.Sprintf("E%04d", int(code)),
		Message: msg,
	}
}
