package credential

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	dErrors "efile/pkg/domain-errors"
)

// Manager keeps the current credential in memory and on disk under dir:
// current.key, current.crt and archive/ for rotated files.
type Manager struct {
	dir        string
	passphrase []byte
	validity   time.Duration
	keyBits    int
	commonName string
	now        func() time.Time
	logger     *slog.Logger

	current atomic.Pointer[Credential]
	// rotateMu serializes writers; readers only touch current.
	rotateMu sync.Mutex
}

type Option func(*Manager)

// WithPassphrase encrypts the private key at rest.
func WithPassphrase(p string) Option {
	return func(m *Manager) { m.passphrase = []byte(p) }
}

func WithValidity(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.validity = d
		}
	}
}

func WithKeyBits(bits int) Option {
	return func(m *Manager) {
		if bits > 0 {
			m.keyBits = bits
		}
	}
}

func WithCommonName(cn string) Option {
	return func(m *Manager) {
		if cn != "" {
			m.commonName = cn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:        dir,
		validity:   DefaultValidity,
		keyBits:    DefaultKeyBits,
		commonName: DefaultCommonName,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "credential")
	return m
}

func (m *Manager) KeyPath() string  { return filepath.Join(m.dir, keyFile) }
func (m *Manager) CertPath() string { return filepath.Join(m.dir, certFile) }

// Generate creates a new credential without persisting or activating it.
func (m *Manager) Generate() (*Credential, error) {
	return issue(m.commonName, m.keyBits, m.now(), m.validity)
}

// Current returns the active credential.
func (m *Manager) Current() (*Credential, error) {
	if c := m.current.Load(); c != nil {
		return c, nil
	}
	return nil, unavailable(m.dir, "no credential loaded", nil)
}

// Load reads the current files and activates them. Missing, corrupt, mismatched
// or group/other-readable files yield CredentialUnavailableError.
func (m *Manager) Load() (*Credential, error) {
	keyPEM, err := readKeyFile(m.KeyPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, unavailable(m.KeyPath(), "key file missing", err)
		}
		return nil, unavailable(m.KeyPath(), "key file unreadable", err)
	}
	key, err := decodeKey(keyPEM, m.passphrase)
	if err != nil {
		return nil, unavailable(m.KeyPath(), "key file corrupt", err)
	}
	certPEM, err := os.ReadFile(m.CertPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, unavailable(m.CertPath(), "certificate file missing", err)
		}
		return nil, unavailable(m.CertPath(), "certificate file unreadable", err)
	}
	der, err := decodeCertificate(certPEM)
	if err != nil {
		return nil, unavailable(m.CertPath(), "certificate file corrupt", err)
	}
	cred, err := fromParts(key, der)
	if err != nil {
		return nil, unavailable(m.CertPath(), "certificate file corrupt", err)
	}

	m.current.Store(cred)
	m.logger.Info("credential loaded",
		"serial", cred.Serial,
		"not_after", cred.NotAfter,
	)
	return cred, nil
}

// Initialize loads the current credential, creating one when no files exist
// yet. Existing but unusable files are an error, never overwritten.
func (m *Manager) Initialize(ctx context.Context) (*Credential, error) {
	if !exists(m.KeyPath()) && !exists(m.CertPath()) {
		return m.Rotate(ctx)
	}
	return m.Load()
}

// Rotate issues a new credential, moves the current files into archive/ and
// activates the new one. Readers see either the old or the new credential.
func (m *Manager) Rotate(ctx context.Context) (*Credential, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cred, err := m.Generate()
	if err != nil {
		return nil, err
	}
	if err := m.persist(cred); err != nil {
		return nil, err
	}

	prev := m.current.Swap(cred)
	attrs := []any{"serial", cred.Serial, "not_after", cred.NotAfter}
	if prev != nil {
		attrs = append(attrs, "previous_serial", prev.Serial)
	}
	m.logger.InfoContext(ctx, "credential rotated", attrs...)
	return cred, nil
}

// persist writes cred's files beside the current ones, archives the current
// files, then renames the new files into place.
func (m *Manager) persist(cred *Credential) error {
	if err := os.MkdirAll(filepath.Join(m.dir, archiveDir), 0o700); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "create credential directory")
	}
	keyPEM, err := encodeKey(cred.Key, m.passphrase)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode key")
	}
	tmpKey, err := writeTemp(m.dir, ".key-*", keyPEM, 0o600)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "write key")
	}
	tmpCert, err := writeTemp(m.dir, ".crt-*", encodeCertificate(cred.CertificateDER), 0o644)
	if err != nil {
		os.Remove(tmpKey)
		return dErrors.Wrap(err, dErrors.CodeInternal, "write certificate")
	}

	if err := m.archive(); err != nil {
		os.Remove(tmpKey)
		os.Remove(tmpCert)
		return err
	}
	if err := os.Rename(tmpKey, m.KeyPath()); err != nil {
		os.Remove(tmpKey)
		os.Remove(tmpCert)
		return dErrors.Wrap(err, dErrors.CodeInternal, "install key")
	}
	if err := os.Rename(tmpCert, m.CertPath()); err != nil {
		os.Remove(tmpCert)
		return dErrors.Wrap(err, dErrors.CodeInternal, "install certificate")
	}
	return nil
}

// archive renames the current files to archive/<serial>-<timestamp>. Files of
// an unreadable credential are archived under "unknown".
func (m *Manager) archive() error {
	if !exists(m.KeyPath()) && !exists(m.CertPath()) {
		return nil
	}
	serial := "unknown"
	if prev := m.current.Load(); prev != nil {
		serial = prev.Serial
	} else if pemBytes, err := os.ReadFile(m.CertPath()); err == nil {
		if der, err := decodeCertificate(pemBytes); err == nil {
			if s, err := certSerial(der); err == nil {
				serial = s
			}
		}
	}
	stamp := m.now().UTC().Format("20060102T150405.000000000Z")
	for path, ext := range map[string]string{m.KeyPath(): ".key", m.CertPath(): ".crt"} {
		if !exists(path) {
			continue
		}
		if err := os.Rename(path, archivePath(m.dir, serial, stamp, ext)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "archive credential")
		}
	}
	return nil
}

// Archived lists the archived file names in name order.
func (m *Manager) Archived() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.dir, archiveDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
