package store

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scenerender/internal/ids"
	"scenerender/internal/models"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
)

const maxTokenAttempts = 5

// Store is the Redis-backed record keeper for uploads, render results and
// share tokens. It is safe for concurrent use by any number of processes.
type Store struct {
	rdb *redis.Client
	log *logger.Logger

	// newToken is swapped in tests to force collisions.
	newToken func() (string, error)
	now      func() time.Time
}

// New wraps an already connected Redis client.
func New(rdb *redis.Client, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{
		rdb:      rdb,
		log:      log.WithComponent("store"),
		newToken: ids.NewShareToken,
		now:      time.Now,
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "store.ping", "redis ping failed")
	}
	return nil
}

// RecordUpload stores metadata for a freshly uploaded file unless its content
// hash is already known. isNew tells the caller whether the bytes still need to
// be persisted; fileID is the identifier the content is stored under, which is
// the pre-existing one when isNew is false.
func (s *Store) RecordUpload(ctx context.Context, f models.UploadedFile) (isNew bool, fileID string, err error) {
	if f.ContentHash == "" || f.ID == "" || f.OwnerID == "" {
		return false, "", errors.Validation("owner, file id and content hash are required")
	}
	uploadedAt := f.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = s.now()
	}

	keys := []string{
		keyGlobalHashes,
		keyGlobalHashToUUID,
		keyUserHashToUUID(f.OwnerID),
		keyFileMeta(f.ID),
		keyUserFilesSet(f.OwnerID),
		keyUserFilesList(f.OwnerID),
	}
	res, err := recordUploadScript.Run(ctx, s.rdb, keys,
		f.ContentHash, f.ID, f.OriginalFilename, uploadedAt.UTC().Format(time.RFC3339), f.OwnerID, f.Ext,
	).Slice()
	if err != nil {
		return false, "", errors.WrapWithCode(err, errors.CodeUnavailable, "store.record_upload", "record upload")
	}
	if len(res) != 2 {
		return false, "", errors.Internal("unexpected record upload reply")
	}

	flag, _ := res[0].(int64)
	fileID, _ = res[1].(string)
	if flag == 1 {
		s.log.Info("upload recorded", "file_uuid", fileID, "owner", f.OwnerID)
		return true, fileID, nil
	}
	if fileID == "" {
		// Hash claimed but its mapping is missing; only possible mid-rollback.
		return false, "", errors.Conflict("content is being recorded by another request")
	}
	s.log.Info("duplicate upload linked", "file_uuid", fileID, "owner", f.OwnerID)
	return false, fileID, nil
}

// ForgetUpload rolls back RecordUpload when the file bytes could not be saved.
func (s *Store) ForgetUpload(ctx context.Context, f models.UploadedFile) error {
	keys := []string{
		keyGlobalHashes,
		keyGlobalHashToUUID,
		keyUserHashToUUID(f.OwnerID),
		keyFileMeta(f.ID),
		keyUserFilesSet(f.OwnerID),
		keyUserFilesList(f.OwnerID),
	}
	if err := forgetUploadScript.Run(ctx, s.rdb, keys, f.ContentHash, f.ID).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "store.forget_upload", "forget upload")
	}
	s.log.Warn("upload rolled back", "file_uuid", f.ID, "owner", f.OwnerID)
	return nil
}

// LookupIDByHash finds the file stored for a content hash, looking at the
// user's own uploads first.
func (s *Store) LookupIDByHash(ctx context.Context, userID, hash string) (string, error) {
	id, err := s.rdb.HGet(ctx, keyUserHashToUUID(userID), hash).Result()
	if err == nil {
		return id, nil
	}
	if err != redis.Nil {
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, "store.lookup_hash", "lookup user hash")
	}

	id, err = s.rdb.HGet(ctx, keyGlobalHashToUUID, hash).Result()
	if err == redis.Nil {
		return "", errors.NotFound("file", hash)
	}
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, "store.lookup_hash", "lookup global hash")
	}
	return id, nil
}

// GetFile loads a file's metadata.
func (s *Store) GetFile(ctx context.Context, fileID string) (*models.UploadedFile, error) {
	meta, err := s.rdb.HGetAll(ctx, keyFileMeta(fileID)).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "store.get_file", "load file meta")
	}
	if meta[fieldOriginalFilename] == "" {
		return nil, errors.NotFound("file", fileID)
	}
	return fileFromMeta(fileID, meta), nil
}

func fileFromMeta(fileID string, meta map[string]string) *models.UploadedFile {
	f := &models.UploadedFile{
		ID:               fileID,
		OriginalFilename: meta[fieldOriginalFilename],
		ContentHash:      meta[fieldContentHash],
		OwnerID:          meta[fieldOwner],
		Ext:              meta[fieldExt],
	}
	if t, err := time.Parse(time.RFC3339, meta[fieldUploadTime]); err == nil {
		f.UploadedAt = t
	}
	return f
}

// UploadRecord is one entry of a user's upload list, joined with whatever
// render results exist for it. GLB, Thumb and ROP map node path to artifact
// filename; the per-type maps are keyed by render type, then node path.
type UploadRecord struct {
	FileID           string            `json:"file_uuid"`
	OriginalFilename string            `json:"original_filename"`
	UploadDate       string            `json:"upload_date"`
	GLB              map[string]string `json:"glb,omitempty"`
	Thumb            map[string]string `json:"thumb,omitempty"`
	ROP              map[string]string `json:"rop,omitempty"`
	// CookData holds the last render time per type and node path.
	CookData     map[models.RenderType]map[string]string `json:"cook_data,omitempty"`
	Frames       map[models.RenderType]map[string]string `json:"frames,omitempty"`
	RenderIDs    map[models.RenderType]map[string]string `json:"render_ids,omitempty"`
	LatestRender string                                  `json:"latest_render,omitempty"`
}

var renderTypes = []models.RenderType{models.RenderGLB, models.RenderThumbnail, models.RenderROP}

type typeCmds struct {
	files  *redis.MapStringStringCmd
	times  *redis.MapStringStringCmd
	frames *redis.MapStringStringCmd
	ids    *redis.MapStringStringCmd
}

type uploadCmds struct {
	meta   *redis.MapStringStringCmd
	byType map[models.RenderType]typeCmds
}

// ListUploads returns the user's files in upload order. Files whose metadata
// has disappeared are skipped.
func (s *Store) ListUploads(ctx context.Context, userID string) ([]UploadRecord, error) {
	fileIDs, err := s.rdb.LRange(ctx, keyUserFilesList(userID), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "store.list_uploads", "list uploads")
	}
	if len(fileIDs) == 0 {
		return []UploadRecord{}, nil
	}

	cmds := make([]uploadCmds, len(fileIDs))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range fileIDs {
			c := uploadCmds{
				meta:   p.HGetAll(ctx, keyFileMeta(id)),
				byType: make(map[models.RenderType]typeCmds, len(renderTypes)),
			}
			for _, t := range renderTypes {
				c.byType[t] = typeCmds{
					files:  p.HGetAll(ctx, keyRenderData(id, t)),
					times:  p.HGetAll(ctx, keyRenderTime(id, t)),
					frames: p.HGetAll(ctx, keyRenderFrames(id, t)),
					ids:    p.HGetAll(ctx, keyRenderIDs(id, t)),
				}
			}
			cmds[i] = c
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "store.list_uploads", "load uploads")
	}

	records := make([]UploadRecord, 0, len(fileIDs))
	for i, id := range fileIDs {
		c := cmds[i]
		meta := c.meta.Val()
		if meta[fieldOriginalFilename] == "" {
			s.log.Warn("upload without metadata", "file_uuid", id, "owner", userID)
			continue
		}
		rec := UploadRecord{
			FileID:           id,
			OriginalFilename: meta[fieldOriginalFilename],
			UploadDate:       meta[fieldUploadTime],
			GLB:              nonEmpty(c.byType[models.RenderGLB].files.Val()),
			Thumb:            nonEmpty(c.byType[models.RenderThumbnail].files.Val()),
			ROP:              nonEmpty(c.byType[models.RenderROP].files.Val()),
		}
		var times []string
		for _, t := range renderTypes {
			tc := c.byType[t]
			rec.CookData = addTyped(rec.CookData, t, tc.times.Val())
			rec.Frames = addTyped(rec.Frames, t, tc.frames.Val())
			rec.RenderIDs = addTyped(rec.RenderIDs, t, tc.ids.Val())
			for _, v := range tc.times.Val() {
				times = append(times, v)
			}
		}
		rec.LatestRender = latest(times)
		records = append(records, rec)
	}
	return records, nil
}

func addTyped(m map[models.RenderType]map[string]string, t models.RenderType, v map[string]string) map[models.RenderType]map[string]string {
	if len(v) == 0 {
		return m
	}
	if m == nil {
		m = make(map[models.RenderType]map[string]string)
	}
	m[t] = v
	return m
}

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

// latest picks the newest RFC 3339 timestamp. Lexical order matches time order
// because every stored value is UTC.
func latest(times []string) string {
	if len(times) == 0 {
		return ""
	}
	sort.Strings(times)
	return times[len(times)-1]
}

// RecordRenderResult stores where a finished render's artifact lives.
func (s *Store) RecordRenderResult(ctx context.Context, r models.RenderResult) error {
	if !r.Type.Valid() {
		return errors.ValidationField("render_type", "unknown render type "+strconv.Quote(string(r.Type)))
	}
	if r.FileID == "" || r.NodePath == "" || r.Filename == "" {
		return errors.Validation("file id, node path and filename are required")
	}
	renderedAt := r.RenderedAt
	if renderedAt.IsZero() {
		renderedAt = s.now()
	}

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, keyRenderData(r.FileID, r.Type), r.NodePath, r.Filename)
		p.HSet(ctx, keyRenderTime(r.FileID, r.Type), r.NodePath, renderedAt.UTC().Format(time.RFC3339))
		if r.RenderID != "" {
			p.HSet(ctx, keyRenderIDs(r.FileID, r.Type), r.NodePath, r.RenderID)
		}
		if r.Frames != nil {
			p.HSet(ctx, keyRenderFrames(r.FileID, r.Type), r.NodePath, r.Frames.String())
		}
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "store.record_render_result", "record render result")
	}
	s.log.Debug("render result recorded",
		"file_uuid", r.FileID, "render_type", string(r.Type), "node_path", r.NodePath)
	return nil
}

// MintOrReuseShareToken returns the public token for target, creating one the
// first time. A target never gets two distinct tokens.
func (s *Store) MintOrReuseShareToken(ctx context.Context, target string, placeholder bool) (string, error) {
	if target == "" {
		return "", errors.ValidationField("filename", "target is required")
	}
	flag := "0"
	if placeholder {
		flag = "1"
	}
	keys := []string{keyShareByTarget, keyShareByToken, keySharePlaceholder}

	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		candidate, err := s.newToken()
		if err != nil {
			return "", errors.Wrap(err, "store.mint_share_token", "generate share token")
		}
		tok, err := mintShareTokenScript.Run(ctx, s.rdb, keys, target, candidate, flag).Text()
		if err == redis.Nil {
			s.log.Warn("share token collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return "", errors.WrapWithCode(err, errors.CodeUnavailable, "store.mint_share_token", "mint share token")
		}
		return tok, nil
	}
	return "", errors.Conflict("could not mint a unique share token")
}

// ResolveShareToken maps a public token back to its target.
func (s *Store) ResolveShareToken(ctx context.Context, token string) (models.ShareLink, error) {
	var target *redis.StringCmd
	var placeholder *redis.BoolCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		target = p.HGet(ctx, keyShareByToken, token)
		placeholder = p.SIsMember(ctx, keySharePlaceholder, token)
		return nil
	})
	if err == redis.Nil || target.Err() == redis.Nil {
		return models.ShareLink{}, errors.NotFound("share token", token)
	}
	if err != nil {
		return models.ShareLink{}, errors.WrapWithCode(err, errors.CodeUnavailable, "store.resolve_share_token", "resolve share token")
	}
	return models.ShareLink{
		Token:       token,
		Target:      target.Val(),
		Placeholder: placeholder.Val(),
	}, nil
}
