// Package media implements component K: the bidirectional mirror
// between the master's object store and each replica's local object
// store, keyed by content hash for dedup, with URL rewriting so a
// replica's locally rendered content points at its own store instead
// of the master's.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/oceanreach/offlinesync/internal/config"
	"github.com/oceanreach/offlinesync/pkg/cms"
	"github.com/oceanreach/offlinesync/pkg/types"
)

// Mirror holds the two object-store handles a process needs: its own
// local store, and the master's (reachable from a replica for pull,
// or simply the same store as local when running on the master).
type Mirror struct {
	master *storeHandle
	local  *storeHandle
	files  cms.FileStore

	transformURLs   bool
	maxFilesPerSync int
	disableFullSync bool
	logger          *slog.Logger
}

type storeHandle struct {
	client  *minio.Client
	bucket  string
	baseURL string
	cfg     config.StoreConfig
}

func newHandle(cfg config.StoreConfig) (*storeHandle, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("media: new client for %s: %w", cfg.Endpoint, err)
	}
	return &storeHandle{client: client, bucket: cfg.Bucket, baseURL: cfg.BaseURL, cfg: cfg}, nil
}

// New constructs a Mirror from the media section of the config. When
// mode is master, the "local" store and "master" store are the same
// endpoint: there is nothing to mirror to, only from. files may be
// nil when the CMS's file table is not wired in (e.g. a test harness
// that only exercises object transfer), in which case
// ProcessReplicaFileRecords maps each record's own id to itself
// rather than resolving one through the CMS.
func New(cfg config.MediaConfig, mode types.Mode, files cms.FileStore, logger *slog.Logger) (*Mirror, error) {
	master, err := newHandle(cfg.MasterStore)
	if err != nil {
		return nil, err
	}
	var local *storeHandle
	if mode == types.ModeMaster {
		local = master
	} else {
		local, err = newHandle(cfg.LocalStore)
		if err != nil {
			return nil, err
		}
	}
	return &Mirror{
		master:          master,
		local:           local,
		files:           files,
		transformURLs:   cfg.TransformURLs,
		maxFilesPerSync: cfg.MaxFilesPerSync,
		disableFullSync: cfg.DisableFullSync,
		logger:          logger,
	}, nil
}

// EnsureLocalBucket creates the local store's bucket if it does not
// already exist, so a freshly provisioned replica can receive media
// without manual setup.
func (m *Mirror) EnsureLocalBucket(ctx context.Context) error {
	exists, err := m.local.client.BucketExists(ctx, m.local.bucket)
	if err != nil {
		return fmt.Errorf("media: check bucket %s: %w", m.local.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.local.client.MakeBucket(ctx, m.local.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("media: create bucket %s: %w", m.local.bucket, err)
	}
	return nil
}

// canonicalObjectPath returns the store-independent key a FileRecord
// is stored under, derived from its hash so identical content never
// duplicates storage. It carries no store-specific uploadPath prefix:
// that is added per store by fullPath.
func canonicalObjectPath(f *types.FileRecord) string {
	if f.FolderPath != "" {
		return strings.TrimPrefix(f.FolderPath, "/") + "/" + f.Hash + f.Ext
	}
	return f.Hash + f.Ext
}

// fullPath adds this store's configured uploadPath prefix to a
// canonical path, so the master's bucket can carry a prefix (e.g.
// "uploads/") the local bucket never does (spec §6.4).
func (h *storeHandle) fullPath(canonical string) string {
	prefix := strings.Trim(h.cfg.UploadPath, "/")
	if prefix == "" {
		return canonical
	}
	return prefix + "/" + strings.TrimPrefix(canonical, "/")
}

// exists reports whether an object is already present in a store,
// the hash-based dedup check before any transfer is attempted.
func (h *storeHandle) exists(ctx context.Context, path string) (bool, error) {
	_, err := h.client.StatObject(ctx, h.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// syncObjectPath copies one object at a canonical (prefix-free) path
// from src to dst unless dst already has it, applying each store's
// own uploadPath prefix to derive its actual key.
func syncObjectPath(ctx context.Context, src, dst *storeHandle, canonical, mime string) error {
	srcPath := src.fullPath(canonical)
	dstPath := dst.fullPath(canonical)

	already, err := dst.exists(ctx, dstPath)
	if err != nil {
		return fmt.Errorf("media: stat %s at destination: %w", dstPath, err)
	}
	if already {
		return nil
	}

	obj, err := src.client.GetObject(ctx, src.bucket, srcPath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("media: get %s from source: %w", srcPath, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return fmt.Errorf("media: stat %s at source: %w", srcPath, err)
	}

	_, err = dst.client.PutObject(ctx, dst.bucket, dstPath, obj, info.Size, minio.PutObjectOptions{
		ContentType: mime,
	})
	if err != nil {
		return fmt.Errorf("media: put %s at destination: %w", dstPath, err)
	}
	return nil
}

// syncObject copies the object a FileRecord describes from src to dst.
func syncObject(ctx context.Context, src, dst *storeHandle, f *types.FileRecord) error {
	return syncObjectPath(ctx, src, dst, canonicalObjectPath(f), f.Mime)
}

// PushToMaster uploads any file in records not already present in
// the master store. Used when a replica edits content locally that
// carries new media and must push both the content update and its
// files.
func (m *Mirror) PushToMaster(ctx context.Context, records []types.FileRecord) error {
	return m.syncMany(ctx, m.local, m.master, records)
}

// PullFromMaster downloads any file in records not already present in
// the local store, invoked when a replica applies an incoming update
// that references media it has not yet mirrored.
func (m *Mirror) PullFromMaster(ctx context.Context, records []types.FileRecord) error {
	return m.syncMany(ctx, m.master, m.local, records)
}

func (m *Mirror) syncMany(ctx context.Context, src, dst *storeHandle, records []types.FileRecord) error {
	if m.disableFullSync {
		m.logger.Debug("media: full sync disabled, skipping object transfer")
		return nil
	}
	n := len(records)
	if m.maxFilesPerSync > 0 && n > m.maxFilesPerSync {
		m.logger.Warn("media: truncating file sync batch", "requested", n, "limit", m.maxFilesPerSync)
		records = records[:m.maxFilesPerSync]
	}
	for i := range records {
		if err := syncObject(ctx, src, dst, &records[i]); err != nil {
			return fmt.Errorf("media: sync object %s: %w", records[i].Hash, err)
		}
	}
	return nil
}

// RewriteURLs rewrites every URL in records to point at the local
// store's base URL instead of the master's, so content rendered by
// this replica links to media it actually holds. It is a no-op when
// TransformURLs is disabled.
func (m *Mirror) RewriteURLs(records []types.FileRecord) []types.FileRecord {
	if !m.transformURLs {
		return records
	}
	out := make([]types.FileRecord, len(records))
	for i, f := range records {
		f.URL = m.rewriteOne(f.URL)
		f.PreviewURL = m.rewriteOne(f.PreviewURL)
		for k, format := range f.Formats {
			format.URL = m.rewriteOne(format.URL)
			f.Formats[k] = format
		}
		out[i] = f
	}
	return out
}

func (m *Mirror) rewriteOne(url string) string {
	if url == "" || !looksLikeMasterURL(url, m.master.baseURL) {
		return url
	}
	path, ok := m.urlToObjectPath(url)
	if !ok {
		return url
	}
	return m.getMinioUrl(path)
}

// urlToObjectPath derives the canonical, prefix-free object path a
// URL refers to, recognizing either the master's or the local
// store's base URL and stripping that store's configured uploadPath
// prefix. It is the inverse of getMinioUrl/getOssUrl (invariant: round
// tripping a path through either pair returns the original path).
func (m *Mirror) urlToObjectPath(url string) (string, bool) {
	if path, ok := stripStoreURL(url, m.master); ok {
		return path, true
	}
	if path, ok := stripStoreURL(url, m.local); ok {
		return path, true
	}
	return "", false
}

func stripStoreURL(url string, h *storeHandle) (string, bool) {
	if h.baseURL == "" || !strings.HasPrefix(url, h.baseURL) {
		return "", false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(url, h.baseURL), "/")
	if prefix := strings.Trim(h.cfg.UploadPath, "/"); prefix != "" {
		rest = strings.TrimPrefix(rest, prefix+"/")
	}
	return rest, true
}

// getMinioUrl builds the local store's public URL for a canonical
// object path, applying the local store's uploadPath prefix if any.
func (m *Mirror) getMinioUrl(path string) string {
	return strings.TrimSuffix(m.local.baseURL, "/") + "/" + m.local.fullPath(path)
}

// getOssUrl builds the master store's public URL for a canonical
// object path, applying the master store's uploadPath prefix.
func (m *Mirror) getOssUrl(path string) string {
	return strings.TrimSuffix(m.master.baseURL, "/") + "/" + m.master.fullPath(path)
}

// extractObjectPaths walks a JSON payload depth-bounded collecting
// every string that looks like a master object URL, deriving its
// canonical object path (component K, invariant 9).
func (m *Mirror) extractObjectPaths(data json.RawMessage) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("media: decode payload for object path extraction: %w", err)
	}
	var paths []string
	m.collectObjectPaths(v, 0, &paths)
	return dedupeStrings(paths), nil
}

func (m *Mirror) collectObjectPaths(v interface{}, depth int, out *[]string) {
	if depth >= maxWalkDepth {
		return
	}
	switch t := v.(type) {
	case string:
		if looksLikeMasterURL(t, m.master.baseURL) {
			if path, ok := m.urlToObjectPath(t); ok {
				*out = append(*out, path)
			}
		}
	case map[string]interface{}:
		for _, val := range t {
			m.collectObjectPaths(val, depth+1, out)
		}
	case []interface{}:
		for _, val := range t {
			m.collectObjectPaths(val, depth+1, out)
		}
	}
}

// SyncContentMedia implements the replica-side on-demand media sync
// (spec §4.K, scenario S4): every master object referenced anywhere
// in data is copied into the local store if not already present, and
// the payload is returned with those URLs rewritten to the local
// store. A sync failure for one object is logged and skipped rather
// than failing the whole apply. When TransformURLs is disabled or data
// is empty, data is returned unchanged and no object is copied.
func (m *Mirror) SyncContentMedia(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
	if !m.transformURLs || len(data) == 0 {
		return data, nil
	}
	paths, err := m.extractObjectPaths(data)
	if err != nil {
		return nil, fmt.Errorf("media: sync content media: %w", err)
	}
	for _, path := range paths {
		if err := syncObjectPath(ctx, m.master, m.local, path, ""); err != nil {
			m.logger.Warn("media: sync content media object failed", "path", path, "error", err)
		}
	}
	return m.RewritePayloadURLs(data)
}

// PrepareForPush implements the reverse of SyncContentMedia (scenario
// S5): before a replica's local edit is published, any record not yet
// present in the master store is uploaded there, and the returned
// records carry the master-rewritten URLs so the outbound SyncMessage
// lets the master resolve and dedup the files by hash.
func (m *Mirror) PrepareForPush(ctx context.Context, records []types.FileRecord) ([]types.FileRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	if err := m.syncMany(ctx, m.local, m.master, records); err != nil {
		return nil, fmt.Errorf("media: prepare for push: %w", err)
	}
	out := make([]types.FileRecord, len(records))
	for i, f := range records {
		path := canonicalObjectPath(&f)
		f.URL = m.getOssUrl(path)
		out[i] = f
	}
	return out, nil
}

// ProcessReplicaFileRecords is the master-side half of file-record
// propagation (scenario S5): for each record a replica pushed, it
// resolves (or creates) the corresponding CMS file row by content
// hash and returns a replicaId -> masterId mapping the caller uses to
// rewrite the content payload's file references via
// UpdateContentFileIds. With no cms.FileStore wired, a record's own
// id is used as its master id (the replica and master share one file
// table, e.g. a single-process test harness).
func (m *Mirror) ProcessReplicaFileRecords(ctx context.Context, records []types.FileRecord) (map[string]string, error) {
	mapping := make(map[string]string, len(records))
	for _, rec := range records {
		if m.files == nil {
			mapping[rec.ID] = rec.ID
			continue
		}
		masterID, found, err := m.files.FindByHash(ctx, rec.Hash)
		if err != nil {
			return nil, fmt.Errorf("media: find file by hash %s: %w", rec.Hash, err)
		}
		if !found {
			masterID, err = m.files.Create(ctx, rec)
			if err != nil {
				return nil, fmt.Errorf("media: create file for hash %s: %w", rec.Hash, err)
			}
		}
		mapping[rec.ID] = masterID
	}
	return mapping, nil
}

// RewritePayloadURLs walks an arbitrary JSON payload depth-bounded,
// rewriting any string value that looks like a master media URL to
// point at the local store instead. It tolerates cycles by bounding
// recursion depth rather than tracking visited nodes, since JSON
// decoded via encoding/json never actually contains reference cycles.
func (m *Mirror) RewritePayloadURLs(payload json.RawMessage) (json.RawMessage, error) {
	if !m.transformURLs || len(payload) == 0 {
		return payload, nil
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("media: decode payload for url rewrite: %w", err)
	}
	rewritten := m.walk(v, 0)
	out, err := json.Marshal(rewritten)
	if err != nil {
		return nil, fmt.Errorf("media: encode rewritten payload: %w", err)
	}
	return out, nil
}

const maxWalkDepth = 32

func (m *Mirror) walk(v interface{}, depth int) interface{} {
	if depth >= maxWalkDepth {
		return v
	}
	switch t := v.(type) {
	case string:
		if looksLikeMasterURL(t, m.master.baseURL) {
			return m.rewriteOne(t)
		}
		return t
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = m.walk(val, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = m.walk(val, depth+1)
		}
		return out
	default:
		return v
	}
}

func looksLikeMasterURL(s, masterBaseURL string) bool {
	return masterBaseURL != "" && strings.HasPrefix(s, masterBaseURL)
}

// ReadAll drains an object reader fully, for callers that need the
// raw bytes rather than a stream.
func ReadAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
