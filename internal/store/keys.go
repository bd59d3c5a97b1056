package store

import "scenerender/internal/models"

// Key layout. Everything the application persists lives under these keys.
const (
	keyGlobalHashes     = "global:file_hashes"
	keyGlobalHashToUUID = "global:hash_to_uuid"

	keyShareByTarget    = "share:target_to_token"
	keyShareByToken     = "share:token_to_target"
	keySharePlaceholder = "share:placeholder"
)

func keyUserHashToUUID(userID string) string { return "user:" + userID + ":hash_to_uuid" }
func keyUserFilesSet(userID string) string   { return "user:" + userID + ":filenames_set" }
func keyUserFilesList(userID string) string  { return "user:" + userID + ":filenames_list" }
func keyFileMeta(fileID string) string       { return "file_meta:" + fileID }

func keyRenderData(fileID string, t models.RenderType) string {
	return "file_render_data:" + fileID + ":" + string(t)
}

// Per-type result attributes, each a hash of node path -> value, so results of
// different render types for one node never overwrite each other.
func keyRenderTime(fileID string, t models.RenderType) string {
	return keyRenderData(fileID, t) + ":render_time"
}

func keyRenderFrames(fileID string, t models.RenderType) string {
	return keyRenderData(fileID, t) + ":frames"
}

func keyRenderIDs(fileID string, t models.RenderType) string {
	return keyRenderData(fileID, t) + ":render_id"
}

// file_meta hash fields
const (
	fieldOriginalFilename = "original_filename"
	fieldUploadTime       = "upload_time"
	fieldContentHash      = "content_hash"
	fieldOwner            = "owner"
	fieldExt              = "ext"
)
