package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Scheme identifies a request signing algorithm.
type Scheme string

const (
	// SchemeHMACSHA1 is used by the V2 API:
	// base64(HMAC-SHA1(secret, hex(MD5(appID + ts)))).
	SchemeHMACSHA1 Scheme = "hmac-sha1"

	// SchemeMD5 is used by the legacy V1 API:
	// hex(MD5(appID + ts + secret)).
	SchemeMD5 Scheme = "md5"
)

// Credentials holds the application identifier and secret issued by the
// remote service. The secret must never appear in logs.
type Credentials struct {
	AppID     string
	SecretKey string
}

// Signer produces signatures with a fixed scheme.
type Signer struct {
	scheme Scheme
}

// New creates a Signer for the given scheme.
func New(scheme Scheme) (*Signer, error) {
	switch scheme {
	case SchemeHMACSHA1, SchemeMD5:
		return &Signer{scheme: scheme}, nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}

// ForAPIVersion returns the Signer matching an API generation ("v1" or "v2").
func ForAPIVersion(version string) (*Signer, error) {
	switch version {
	case "v1":
		return New(SchemeMD5)
	case "v2":
		return New(SchemeHMACSHA1)
	default:
		return nil, fmt.Errorf("unknown API version %q", version)
	}
}

// Scheme returns the signing scheme in use.
func (s *Signer) Scheme() Scheme {
	return s.scheme
}

// Sign computes the signature for the given credentials and timestamp.
// It is deterministic for identical inputs.
func (s *Signer) Sign(creds Credentials, ts string) string {
	switch s.scheme {
	case SchemeMD5:
		sum := md5.Sum([]byte(creds.AppID + ts + creds.SecretKey))
		return hex.EncodeToString(sum[:])
	default: // SchemeHMACSHA1
		sum := md5.Sum([]byte(creds.AppID + ts))
		digest := hex.EncodeToString(sum[:])

		mac := hmac.New(sha1.New, []byte(creds.SecretKey))
		mac.Write([]byte(digest))
		return base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}
}

// AuthParams builds the common authentication parameters carried by every
// request tied to a job. The V1 generation names the identifier field
// "app_id", V2 names it "appId"; the field follows the scheme because the
// two are bound one-to-one by API generation.
func (s *Signer) AuthParams(creds Credentials) url.Values {
	ts := Timestamp(time.Now())
	idField := "appId"
	if s.scheme == SchemeMD5 {
		idField = "app_id"
	}
	params := url.Values{}
	params.Set(idField, creds.AppID)
	params.Set("signa", s.Sign(creds, ts))
	params.Set("ts", ts)
	return params
}

// Timestamp renders t as the 13-digit millisecond string the API expects.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
