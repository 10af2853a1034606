package schema

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/redis/go-redis/v9"

	"efile/pkg/platform/sentinel"
)

//go:embed schemas
var embedded embed.FS

// Key identifies one schema source.
type Key struct {
	FormType string
	Version  string
}

func (k Key) String() string { return k.FormType + "@" + k.Version }

// Source supplies raw schema definitions. Load returns sentinel.ErrNotFound when
// the source has no entry for the key.
type Source interface {
	Load(ctx context.Context, key Key) ([]byte, error)
	List(ctx context.Context) ([]Key, error)
}

// Store is a Source that also accepts administrative registrations.
type Store interface {
	Source
	Save(ctx context.Context, key Key, data []byte) error
}

// FSSource reads "<version>/<formType>.yaml" files from a file system.
type FSSource struct {
	fsys fs.FS
}

// Embedded returns the schemas compiled into the binary.
func Embedded() *FSSource {
	sub, err := fs.Sub(embedded, "schemas")
	if err != nil {
		panic(err)
	}
	return &FSSource{fsys: sub}
}

// Dir reads schemas from a directory on disk, laid out like the embedded tree.
func Dir(root string) *FSSource {
	return &FSSource{fsys: os.DirFS(root)}
}

func (s *FSSource) Load(_ context.Context, key Key) ([]byte, error) {
	data, err := fs.ReadFile(s.fsys, path.Join(key.Version, key.FormType+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, sentinel.ErrNotFound
	}
	return data, err
}

func (s *FSSource) List(_ context.Context) ([]Key, error) {
	matches, err := fs.Glob(s.fsys, "*/*.yaml")
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(matches))
	for _, m := range matches {
		version, file := path.Split(m)
		keys = append(keys, Key{
			FormType: strings.TrimSuffix(file, ".yaml"),
			Version:  strings.TrimSuffix(version, "/"),
		})
	}
	return keys, nil
}

const (
	redisKeyPrefix = "schema:def:"
	redisIndexKey  = "schema:index"
)

// RedisStore shares administrative registrations between replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, key Key) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Key, error) {
	members, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	keys := make([]Key, 0, len(members))
	for _, m := range members {
		ft, version, ok := strings.Cut(m, "@")
		if !ok {
			continue
		}
		keys = append(keys, Key{FormType: ft, Version: version})
	}
	return keys, nil
}

// Save writes the definition and indexes it in one transaction.
func (s *RedisStore) Save(ctx context.Context, key Key, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key.String(), data, 0)
	pipe.SAdd(ctx, redisIndexKey, key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save schema %s: %w", key, err)
	}
	return nil
}
