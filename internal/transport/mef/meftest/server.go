// Package meftest runs an in-process MeF stand-in. It checks bearer tokens
// and envelope signatures and answers with scripted or automatic
// acknowledgments.
package meftest

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"efile/internal/signer"
	"efile/internal/submission/models"
	"efile/internal/transport/mef"
)

// Stub behaves like MeF for a single transmitter certificate.
type Stub struct {
	Issuer   string
	Audience string

	mu        sync.Mutex
	key       *rsa.PublicKey
	verifier  *signer.Signer
	now       func() time.Time
	received  [][]byte
	acks      map[string][]byte
	autoAck   models.AckStatus
	handoffs  []int
	refuseMsg string
}

// NewStub trusts the certificate in certDER.
func NewStub(certDER []byte, issuer, audience string) (*Stub, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
	}
	return &Stub{
		Issuer:   issuer,
		Audience: audience,
		key:      key,
		verifier: signer.New(),
		now:      time.Now,
		acks:     map[string][]byte{},
		autoAck:  models.AckAccepted,
	}, nil
}

// Trust replaces the trusted certificate after a rotation.
func (s *Stub) Trust(certDER []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

// FailNext makes the next len(statuses) transmissions answer with those
// HTTP statuses.
func (s *Stub) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs = append(s.handoffs, statuses...)
}

// Refuse makes every transmission answer with a refused handoff.
func (s *Stub) Refuse(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuseMsg = msg
}

// AutoAcknowledge sets the status of acknowledgments produced on receipt.
// An empty status disables them.
func (s *Stub) AutoAcknowledge(status models.AckStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoAck = status
}

// SetAcknowledgment stores raw for subID.
func (s *Stub) SetAcknowledgment(subID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[subID] = raw
}

// Received returns the envelopes received so far.
func (s *Stub) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received...)
}

// Handler returns the HTTP surface.
func (s *Stub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authenticate)
	r.Post("/submissions", s.handleSubmit)
	r.Get("/acknowledgments/{id}", s.handleAck)
	return r
}

// Start serves the stub on a loopback listener.
func (s *Stub) Start() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

func (s *Stub) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		key := s.key
		s.mu.Unlock()
		if !ok {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := mef.ValidateToken(token, key, s.Issuer, s.Audience, s.now); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Stub) handleSubmit(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.received = append(s.received, raw)
	var forced int
	if len(s.handoffs) > 0 {
		forced, s.handoffs = s.handoffs[0], s.handoffs[1:]
	}
	refuse := s.refuseMsg
	s.mu.Unlock()

	if forced != 0 {
		http.Error(w, http.StatusText(forced), forced)
		return
	}
	if refuse != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"accepted": false, "message": refuse})
		return
	}
	if !s.verifier.VerifyWire(raw) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"accepted": false, "message": "signature verification failed"})
		return
	}
	env, err := signer.DecodeEnvelope(raw)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"accepted": false, "message": err.Error()})
		return
	}
	if len(env.Document) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"accepted": false, "message": "empty document"})
		return
	}
	subID := r.Header.Get(mef.HeaderSubmissionID)
	s.mu.Lock()
	if s.autoAck != "" && subID != "" {
		s.acks[subID] = models.Acknowledgment{Status: s.autoAck, Timestamp: s.now().UTC(), SubmissionID: subID}.Marshal()
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "reference": "MEF-" + subID})
}

func (s *Stub) handleAck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	raw, ok := s.acks[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
