package resolver

import (
	"context"
	"fmt"
	"maps"

	"github.com/99designs/gqlgen/graphql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/blob"
	"github.com/syssam/veloql/model"
)

// SaveResult is the result of a create or update: the saved item, or the
// violations that kept it from being saved.
type SaveResult struct {
	Item       veloql.Item        `json:"item,omitempty"`
	Violations []veloql.Violation `json:"validationViolations"`
}

// Save creates the item when input has no id and updates it otherwise.
// Uploaded files are stored after the item is committed; storage failures
// are logged and leave the item in place.
func (r *Resolver) Save(ctx context.Context, e *model.Entity, input veloql.Item) (*SaveResult, error) {
	op := veloql.OpCreate
	if input.ID() != "" {
		op = veloql.OpUpdate
	}
	req := &model.Request{Op: op, Entity: e, ID: input.ID(), Input: input}
	permit := func(ctx context.Context) error { return r.perms.EnsureSave(ctx, e, op, input) }
	res, err := r.dispatch(ctx, req, permit, func(ctx context.Context) (any, error) {
		in, files, err := r.extractFiles(e, input)
		if err != nil {
			return nil, err
		}
		item, vs, err := r.acc.Save(ctx, e, in)
		if err != nil {
			return nil, err
		}
		if len(vs) > 0 {
			return &SaveResult{Violations: vs}, nil
		}
		r.storeFiles(ctx, e, input, item, files)
		r.forget(ctx, e, item.ID())
		return &SaveResult{Item: item}, nil
	})
	if err != nil {
		return nil, err
	}
	sr, err := asSaveResult(res)
	if err != nil {
		return nil, veloql.NewMutationError(e.Name, opLabels[op], err)
	}
	if sr.Item, err = r.Resolve(ctx, e, sr.Item); err != nil {
		return nil, err
	}
	return sr, nil
}

// Delete removes the item id of e, applying the delete policies, then its
// files. Failures to delete are returned as messages; an empty list is
// success. An access denial is returned as the error.
func (r *Resolver) Delete(ctx context.Context, e *model.Entity, id string) ([]string, error) {
	req := &model.Request{Op: veloql.OpDelete, Entity: e, ID: id}
	permit := func(ctx context.Context) error { return r.perms.EnsureDelete(ctx, e, id) }
	res, err := r.dispatch(ctx, req, permit, func(ctx context.Context) (any, error) {
		item, err := r.acc.Delete(ctx, e, id)
		if err != nil {
			return nil, err
		}
		r.forget(ctx, e, id)
		return r.deleteFiles(ctx, e, item), nil
	})
	if veloql.IsAccessDenied(err) {
		return nil, err
	}
	if err != nil {
		return []string{err.Error()}, nil
	}
	switch v := res.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return v, nil
	case []any:
		msgs := make([]string, len(v))
		for i, m := range v {
			msgs[i] = fmt.Sprint(m)
		}
		return msgs, nil
	case error:
		return []string{v.Error()}, nil
	}
	return []string{}, nil
}

// upload is a file value extracted from an input.
type upload struct {
	graphql.Upload
	secret string
}

// extractFiles replaces uploads in the file attributes of input by their
// metadata. A nil value clears the file. Other values are dropped.
func (r *Resolver) extractFiles(e *model.Entity, input veloql.Item) (veloql.Item, map[string]*upload, error) {
	files := e.FileAttributes()
	if len(files) == 0 {
		return input, nil, nil
	}
	in := input.Clone()
	out := map[string]*upload{}
	for _, attr := range files {
		v, ok := in[attr.Name]
		if !ok || v == nil {
			continue
		}
		var up graphql.Upload
		switch v := v.(type) {
		case graphql.Upload:
			up = v
		case *graphql.Upload:
			up = *v
		default:
			r.log.Debug("file attribute value is not an upload, dropped",
				zap.String("entity", e.Name),
				zap.String("attribute", attr.Name),
				zap.String("type", fmt.Sprintf("%T", v)))
			delete(in, attr.Name)
			continue
		}
		if r.blobs == nil {
			return nil, nil, veloql.NewInputError(e.Name, attr.Name, "file uploads are not configured")
		}
		u := &upload{Upload: up, secret: uuid.NewString()}
		out[attr.Name] = u
		in[attr.Name] = map[string]any{
			"filename": up.Filename,
			"mimetype": up.ContentType,
			"encoding": "7bit",
			"size":     up.Size,
			"secret":   u.secret,
		}
	}
	return in, out, nil
}

// storeFiles writes uploaded file contents under keys using the item id and
// removes the contents of cleared files.
func (r *Resolver) storeFiles(ctx context.Context, e *model.Entity, input, item veloql.Item, files map[string]*upload) {
	if r.blobs == nil {
		return
	}
	for _, attr := range e.FileAttributes() {
		key := blob.Key(e.Path, item.ID(), attr.Name)
		u, ok := files[attr.Name]
		if !ok {
			if v, set := input[attr.Name]; set && v == nil {
				if _, err := r.blobs.Delete(ctx, key); err != nil {
					r.log.Warn("removing cleared file failed", zap.String("key", key), zap.Error(err))
				}
			}
			continue
		}
		_, err := r.blobs.Put(ctx, key, u.File, blob.PutOptions{
			ContentType: u.ContentType,
			Metadata:    map[string]string{"filename": u.Filename, "secret": u.secret},
		})
		if err != nil {
			r.log.Error("storing file failed",
				zap.String("entity", e.Name),
				zap.String("id", item.ID()),
				zap.String("attribute", attr.Name),
				zap.Error(err))
		}
	}
}

func (r *Resolver) deleteFiles(ctx context.Context, e *model.Entity, item veloql.Item) []string {
	msgs := []string{}
	if r.blobs == nil {
		return msgs
	}
	for _, attr := range e.FileAttributes() {
		if item[attr.Name] == nil {
			continue
		}
		key := blob.Key(e.Path, item.ID(), attr.Name)
		if _, err := r.blobs.Delete(ctx, key); err != nil {
			r.log.Warn("removing file failed", zap.String("key", key), zap.Error(err))
			msgs = append(msgs, fmt.Sprintf("%s: %v", attr.Name, err))
		}
	}
	return msgs
}

// fileURL sets the download URL of the file value of attr.
func (r *Resolver) fileURL(e *model.Entity, item veloql.Item, attr *model.Attribute) {
	f, ok := item[attr.Name].(map[string]any)
	if !ok || item.ID() == "" {
		return
	}
	secret, _ := f["secret"].(string)
	f = maps.Clone(f)
	item[attr.Name] = f
	f["url"] = fmt.Sprintf("%s/%s?secret=%s", r.filesURL, blob.Key(e.Path, item.ID(), attr.Name), secret)
}

func asSaveResult(v any) (*SaveResult, error) {
	switch v := v.(type) {
	case *SaveResult:
		if v == nil {
			return &SaveResult{}, nil
		}
		return v, nil
	case SaveResult:
		return &v, nil
	case []veloql.Violation:
		return &SaveResult{Violations: v}, nil
	}
	item, err := asItem(v)
	if err != nil {
		return nil, err
	}
	return &SaveResult{Item: item}, nil
}
