package amazon

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/pricealert/internal/hash/sha256"
)

const (
	signAlgorithm = "AWS4-HMAC-SHA256"
	signService   = "ProductAdvertisingAPI"
)

// signer applies AWS Signature Version 4 to PA-API requests.
type signer struct {
	accessKey string
	secretKey string
	region    string
}

func (s signer) sign(req *http.Request, payload []byte, at time.Time) {
	at = at.UTC()
	amzDate := at.Format("20060102T150405Z")
	dateStamp := at.Format("20060102")
	req.Header.Set("X-Amz-Date", amzDate)
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	var canonicalHeaders strings.Builder
	for _, name := range names {
		fmt.Fprintf(&canonicalHeaders, "%s:%s\n", name, strings.TrimSpace(req.Header.Get(name)))
	}
	signedHeaders := strings.Join(names, ";")

	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	canonicalRequest := strings.Join([]string{
		req.Method,
		path,
		req.URL.RawQuery,
		canonicalHeaders.String(),
		signedHeaders,
		sha256.Hex(payload),
	}, "\n")

	scope := strings.Join([]string{dateStamp, s.region, signService, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		signAlgorithm,
		amzDate,
		scope,
		sha256.Hex([]byte(canonicalRequest)),
	}, "\n")

	key := sha256.HMAC([]byte("AWS4"+s.secretKey), dateStamp)
	key = sha256.HMAC(key, s.region)
	key = sha256.HMAC(key, signService)
	key = sha256.HMAC(key, "aws4_request")
	signature := sha256.HMACHex(key, stringToSign)

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, s.accessKey, scope, signedHeaders, signature))
}
