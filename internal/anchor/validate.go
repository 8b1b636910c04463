package anchor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
)

func validateOwner(owner proof.OwnerMetadata) (proof.OwnerMetadata, error) {
	owner.ID = strings.TrimSpace(owner.ID)
	owner.DisplayName = strings.TrimSpace(owner.DisplayName)
	owner.Contact = strings.TrimSpace(owner.Contact)

	if owner.DisplayName == "" {
		return owner, proof.NewValidationError("owner display name is required")
	}
	if utf8.RuneCountInString(owner.DisplayName) > ledger.MaxClaimedNameLen {
		return owner, proof.NewValidationError(
			fmt.Sprintf("owner display name too long (max %d characters)", ledger.MaxClaimedNameLen))
	}
	return owner, nil
}

// validateContent checks the request body against its kind and the size
// limits, and fills File.Size from the content.
func (s *Service) validateContent(req AnchorRequest) (proof.Kind, *proof.FileMeta, error) {
	kind := req.Kind
	if kind == "" {
		kind = proof.KindText
	}
	if len(req.Content) == 0 {
		return "", nil, proof.NewValidationError(fmt.Sprintf("%s content is required", kind))
	}
	size := int64(len(req.Content))
	if kind == proof.KindText && size > s.textLimit {
		return "", nil, proof.NewValidationError(
			fmt.Sprintf("text too large: %d bytes (max %d)", size, s.textLimit))
	}

	file := req.File
	if kind == proof.KindFile && file != nil {
		f := *file
		if f.Size == 0 {
			f.Size = size
		}
		if f.Size != size {
			return "", nil, proof.NewValidationError(
				fmt.Sprintf("file size %d does not match content length %d", f.Size, size))
		}
		file = &f
	}
	return s.validateKind(kind, file)
}

// validateKind checks kind/file consistency and the size limits.
func (s *Service) validateKind(kind proof.Kind, file *proof.FileMeta) (proof.Kind, *proof.FileMeta, error) {
	if kind == "" {
		kind = proof.KindText
	}
	if _, err := proof.ParseKind(string(kind)); err != nil {
		return "", nil, err
	}

	switch kind {
	case proof.KindText:
		if file != nil {
			return "", nil, proof.NewValidationError("file metadata is only allowed for file content")
		}
		return kind, nil, nil
	default:
		if file == nil || strings.TrimSpace(file.Name) == "" {
			return "", nil, proof.NewValidationError("file name is required for file content")
		}
		if file.Size <= 0 {
			return "", nil, proof.NewValidationError("file is empty")
		}
		if file.Size > s.fileLimit {
			return "", nil, proof.NewValidationError(
				fmt.Sprintf("file too large: %d bytes (max %d)", file.Size, s.fileLimit))
		}
		f := *file
		f.Name = strings.TrimSpace(f.Name)
		return kind, &f, nil
	}
}
