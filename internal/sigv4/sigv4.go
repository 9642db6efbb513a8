// Package sigv4 implements the AWS Signature Version 4 request-signing
// scheme. It is used by the storage client's raw-HTTP transport strategy to
// authenticate against S3-compatible endpoints without a full SDK session.
//
// Every function is pure: signing material is derived per call and discarded,
// so the package is safe for concurrent use.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	// Algorithm is the signing algorithm tag carried in the Authorization
	// header and string-to-sign.
	Algorithm = "AWS4-HMAC-SHA256"

	// ServiceS3 is the service identifier for object storage requests.
	ServiceS3 = "s3"

	terminator = "aws4_request"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"
)

// EmptyPayloadHash is the hex SHA-256 of a zero-length body, used for GET
// and HEAD requests.
const EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Request carries everything needed to sign one HTTP request. Headers must
// include "host"; if "x-amz-date" is absent it is derived from Time and
// included in the signature.
type Request struct {
	Method      string
	Path        string // URI path, already URI-encoded
	Query       string // raw query string, may be empty
	Headers     map[string]string
	PayloadHash string // hex SHA-256 of the request body

	AccessKey string
	SecretKey string
	Region    string
	Service   string
	Time      time.Time
}

// Signature is the computed signing output.
type Signature struct {
	// Authorization is the complete Authorization header value.
	Authorization string
	// AmzDate is the X-Amz-Date header value the request must carry.
	AmzDate string
	// SignedHeaders is the semicolon-joined list of header names covered
	// by the signature.
	SignedHeaders string
}

// PayloadHash returns the hex SHA-256 of body.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign computes the Signature V4 authorization for req.
func Sign(req Request) Signature {
	amzDate := req.Time.UTC().Format(amzDateFormat)
	dateStamp := req.Time.UTC().Format(dateStampFormat)

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if _, ok := headers["x-amz-date"]; !ok {
		headers["x-amz-date"] = amzDate
	}

	signedHeaders, canonicalHeaders := canonicalizeHeaders(headers)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.Path),
		canonicalQuery(req.Query),
		canonicalHeaders,
		signedHeaders,
		req.PayloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, req.Region, req.Service, terminator}, "/")
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hashHex(canonicalRequest),
	}, "\n")

	key := deriveSigningKey(req.SecretKey, dateStamp, req.Region, req.Service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	authorization := Algorithm +
		" Credential=" + req.AccessKey + "/" + scope +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature

	return Signature{
		Authorization: authorization,
		AmzDate:       amzDate,
		SignedHeaders: signedHeaders,
	}
}

// EncodePath URI-encodes every segment of an object path while keeping the
// segment separators intact, producing the form both the canonical request
// and the request URL expect.
func EncodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg)
	}
	return strings.Join(segments, "/")
}

// canonicalizeHeaders produces the sorted semicolon list of signed header
// names and the canonical "name:value\n" block.
func canonicalizeHeaders(headers map[string]string) (signed, canonical string) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(headers[name])
		b.WriteByte('\n')
	}
	return strings.Join(names, ";"), b.String()
}

func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// canonicalQuery sorts query parameters by name, then value, both
// URI-encoded per the signing rules.
func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}

	type pair struct{ key, value string }
	var pairs []pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		ku, err := url.QueryUnescape(k)
		if err != nil {
			ku = k
		}
		vu, err := url.QueryUnescape(v)
		if err != nil {
			vu = v
		}
		pairs = append(pairs, pair{uriEncode(ku), uriEncode(vu)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// uriEncode implements the signing scheme's strict RFC 3986 encoding:
// unreserved characters pass through, everything else becomes %XX.
func uriEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xF])
		}
	}
	return b.String()
}

// deriveSigningKey chains four HMAC-SHA256 operations seeded from the
// secret key, date, region, and service name.
func deriveSigningKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, terminator)
}

func hmacSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
