package auth

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Request headers carrying the signature and its replay protection
const (
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderNonce     = "X-Nonce"
	HeaderExpires   = "X-Expires"
)

const (
	// DefaultMaxSignatureAge bounds how far in the future X-Expires may lie.
	DefaultMaxSignatureAge = 5 * time.Minute

	maxNonceLength    = 64
	maxSignedBodySize = 1 << 20
)

var (
	ErrMissingSignature = errors.New("signature headers missing")
	ErrSignerMismatch   = errors.New("signature does not recover to the signer")
	ErrInvalidNonce     = errors.New("nonce must be 1 to 64 characters")
	ErrSignatureExpired = errors.New("signature expired")
	ErrExpiryTooFar     = errors.New("signature expiry too far in the future")
	ErrNonceReused      = errors.New("nonce already used")
	ErrBodyTooLarge     = errors.New("request body too large to sign")
	ErrNonceStore       = errors.New("nonce store failure")
)

// RequestMessage is the text a caller signs to authorize exactly one request:
// the method and request URI, the keccak256 of the body, a nonce and a unix
// expiry.
func RequestMessage(method, requestURI string, body []byte, nonce string, expires int64) string {
	return fmt.Sprintf("xchain-vault request\n%s %s\nbody: %s\nnonce: %s\nexpires: %d",
		method, requestURI, crypto.Keccak256Hash(body).Hex(), nonce, expires)
}

// SignRequest signs req with key and sets the signature headers.
func SignRequest(key *ecdsa.PrivateKey, req *http.Request, nonce string, expires time.Time) error {
	body, err := readBody(req)
	if err != nil {
		return err
	}
	sig, err := SignEIP191(key, RequestMessage(req.Method, req.URL.RequestURI(), body, nonce, expires.Unix()))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSigner, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderExpires, strconv.FormatInt(expires.Unix(), 10))
	return nil
}

// Verifier authenticates signed requests. A signature is accepted once,
// before its expiry, for the request it was made for.
type Verifier struct {
	nonces NonceStore
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier. maxAge <= 0 selects DefaultMaxSignatureAge.
func NewVerifier(nonces NonceStore, maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxSignatureAge
	}
	return &Verifier{
		nonces: nonces,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Verify checks that the signature over r recovers to X-Signer and claims
// its nonce.
func (v *Verifier) Verify(r *http.Request) (common.Address, error) {
	signerRaw := r.Header.Get(HeaderSigner)
	signature := r.Header.Get(HeaderSignature)
	nonce := r.Header.Get(HeaderNonce)
	expiresRaw := r.Header.Get(HeaderExpires)
	if signerRaw == "" || signature == "" || nonce == "" || expiresRaw == "" {
		return common.Address{}, ErrMissingSignature
	}
	claimed, err := ParseAddress(signerRaw)
	if err != nil {
		return common.Address{}, err
	}
	if len(nonce) > maxNonceLength {
		return common.Address{}, ErrInvalidNonce
	}

	expiresUnix, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid expiry: %w", err)
	}
	now := v.now()
	expires := time.Unix(expiresUnix, 0)
	if !now.Before(expires) {
		return common.Address{}, ErrSignatureExpired
	}
	if expires.Sub(now) > v.maxAge {
		return common.Address{}, ErrExpiryTooFar
	}

	body, err := readBody(r)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := VerifyEIP191Signature(RequestMessage(r.Method, r.URL.RequestURI(), body, nonce, expiresUnix), signature)
	if err != nil {
		return common.Address{}, err
	}
	if signer != claimed {
		return common.Address{}, ErrSignerMismatch
	}

	fresh, err := v.nonces.Claim(r.Context(), signer, nonce, expires.Sub(now))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrNonceStore, err)
	}
	if !fresh {
		return common.Address{}, ErrNonceReused
	}
	return signer, nil
}

// readBody reads the whole body and puts it back for the next reader.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodySize+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxSignedBodySize {
		return nil, ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
