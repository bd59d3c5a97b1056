package handlers

import (
	stderrors "errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"scenerender/internal/httpkit"
	"scenerender/internal/ids"
	"scenerender/internal/models"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/ports"
	"scenerender/internal/session"
)

const (
	uploadField     = "hipfile"
	multipartMemory = 32 << 20
)

var allowedSceneExts = map[string]bool{
	".hip":   true,
	".hiplc": true,
	".hipnc": true,
}

// UploadScene stores a scene file for the session user. Identical content is
// stored once; a repeat upload answers with the existing file UUID.
func (h *Handler) UploadScene(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	sess, ok := session.FromContext(ctx)
	if !ok {
		return errors.ValidationField("session", "no user session, request /generate_user_uuid first")
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.ValidationField(uploadField, "file is too large")
		}
		return errors.ValidationField(uploadField, "No hip file was contained.")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return errors.ValidationField(uploadField, "No hip file was contained.")
	}
	defer file.Close()

	if header.Filename == "" {
		return errors.ValidationField(uploadField, "No file was selected.")
	}
	name := ids.SanitizeFilename(filepath.Base(header.Filename))
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedSceneExts[ext] {
		return errors.ValidationField(uploadField, "File type not allowed")
	}

	hash, err := ids.HashContent(file)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "uploads.hash", "failed to read upload")
	}

	upload := models.UploadedFile{
		ID:               ids.NewID(),
		OriginalFilename: name,
		ContentHash:      hash,
		OwnerID:          sess.UserID,
		Ext:              ext,
		UploadedAt:       time.Now().UTC(),
	}
	isNew, fileID, err := h.store.RecordUpload(ctx, upload)
	if err != nil {
		return err
	}

	if isNew {
		_, err := h.sp.PutObject(ctx, ports.PutObjectInput{
			ObjectKey:   upload.ObjectKey(),
			ContentType: "application/octet-stream",
			Reader:      file,
			Size:        header.Size,
		})
		if err != nil {
			if ferr := h.store.ForgetUpload(ctx, upload); ferr != nil {
				log.Error("failed to roll back upload record", "file_uuid", upload.ID, "error", ferr.Error())
			}
			return errors.WrapWithCode(err, errors.CodeUnavailable, "uploads.save", "failed to store scene file")
		}
		log.Info("scene stored", "file_uuid", fileID, "filename", name, "size", header.Size)
	} else {
		log.Info("located existing file with matching hash", "file_uuid", fileID, "filename", name)
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]string{
		"uuid":    fileID,
		"message": "File upload successful.",
	})
	return nil
}

// StoredModels lists a user's uploads together with their renders.
func (h *Handler) StoredModels(w http.ResponseWriter, r *http.Request) error {
	userID := r.URL.Query().Get("userUuid")
	if userID == "" {
		return errors.ValidationField("userUuid", "Invalid request. Specify a user_uuid.")
	}

	records, err := h.store.ListUploads(r.Context(), userID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.ValidationField("userUuid", "Invalid model data. Specify a key.")
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"model_data": records})
	return nil
}
