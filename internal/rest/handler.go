// Package rest exposes repositories over HTTP. Filters arrive as a JSON value
// in the "filter" query parameter and where clauses in "where".
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/repository"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/filter"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Limits is the caller-level pagination policy of list endpoints.
type Limits struct {
	// DefaultLimit applies when a filter has no limit. Zero means unlimited.
	DefaultLimit int `yaml:"defaultLimit"`
	// MaxLimit caps every requested limit. Zero means no cap.
	MaxLimit int `yaml:"maxLimit"`
}

// Handler serves one entity's repository.
type Handler struct {
	repo   repository.CRUD
	limits Limits
}

// NewHandler creates a handler. Read-only repositories answer every mutation
// with 403.
func NewHandler(repo repository.CRUD, limits Limits) *Handler {
	return &Handler{repo: repo, limits: limits}
}

// Register mounts the resource routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("", h.Find)
	r.GET("/count", h.Count)
	r.GET("/:id", h.FindByID)
	r.POST("", h.Create)
	r.PATCH("", h.UpdateAll)
	r.PATCH("/:id", h.UpdateByID)
	r.DELETE("", h.DeleteAll)
	r.DELETE("/:id", h.DeleteByID)
	r.POST("/:id/restore", h.Restore)
}

// Find handles list queries and writes the Content-Range header.
func (h *Handler) Find(c *gin.Context) {
	f, err := h.queryFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.repo.FindWithRange(c.Request.Context(), f, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithRange(c, res.Data, res.Range.Start, res.Range.End, res.Range.Total)
}

// Count handles row counts.
func (h *Handler) Count(c *gin.Context) {
	where, err := queryWhere(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	n, err := h.repo.Count(c.Request.Context(), where, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"count": n})
}

// FindByID handles single row lookups.
func (h *Handler) FindByID(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	f, err := queryFilterParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	rec, err := h.repo.FindByID(c.Request.Context(), id, f, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	if rec == nil {
		response.Error(c, errors.Newf(errors.RecordNotFound, "%s %v not found", h.repo.Entity().Name, id))
		return
	}
	response.Success(c, rec)
}

// Create inserts one row from an object body or many from an array body.
func (h *Handler) Create(c *gin.Context) {
	body, err := decodeBody(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	ctx := c.Request.Context()
	switch v := body.(type) {
	case map[string]any:
		res, err := h.repo.Create(ctx, model.Record(v), nil)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.SuccessWithStatus(c, http.StatusCreated, res)
	case []any:
		rows := make([]model.Record, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				response.BadRequest(c, "request body must be an object or a list of objects")
				return
			}
			rows[i] = obj
		}
		res, err := h.repo.CreateAll(ctx, rows, nil)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.SuccessWithStatus(c, http.StatusCreated, res)
	default:
		response.BadRequest(c, "request body must be an object or a list of objects")
	}
}

// UpdateByID applies an object body to one row.
func (h *Handler) UpdateByID(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	data, ok := objectBody(c)
	if !ok {
		return
	}
	res, err := h.repo.UpdateByID(c.Request.Context(), id, data, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// UpdateAll applies an object body to every row matching the where parameter.
func (h *Handler) UpdateAll(c *gin.Context) {
	where, err := queryWhere(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	data, ok := objectBody(c)
	if !ok {
		return
	}
	res, err := h.repo.UpdateAll(c.Request.Context(), where, data, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// DeleteByID deletes one row, softly when the entity supports it.
func (h *Handler) DeleteByID(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var (
		res *repository.Result
		err error
	)
	if soft, ok := h.softDeletable(); ok {
		res, err = soft.SoftDeleteByID(ctx, id, nil)
	} else {
		res, err = h.repo.DeleteByID(ctx, id, nil)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// DeleteAll deletes every row matching the where parameter.
func (h *Handler) DeleteAll(c *gin.Context) {
	where, err := queryWhere(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	ctx := c.Request.Context()
	var res *repository.BatchResult
	if soft, ok := h.softDeletable(); ok {
		res, err = soft.SoftDeleteAll(ctx, where, nil)
	} else {
		res, err = h.repo.DeleteAll(ctx, where, nil)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Restore clears the soft delete mark of one row.
func (h *Handler) Restore(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	soft, ok := h.softDeletable()
	if !ok {
		response.Error(c, errors.Newf(errors.OperationNotAllowed, "restoreById is not supported by %s", h.repo.Entity().Name))
		return
	}
	res, err := soft.RestoreByID(c.Request.Context(), id, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *Handler) softDeletable() (repository.SoftDeletable, bool) {
	if h.repo.Entity().SoftDelete == nil {
		return nil, false
	}
	soft, ok := h.repo.(repository.SoftDeletable)
	return soft, ok
}

// queryFilter decodes the filter parameter and applies the limit policy.
func (h *Handler) queryFilter(c *gin.Context) (*filter.Filter, error) {
	f, err := queryFilterParam(c)
	if err != nil {
		return nil, err
	}
	if f.Limit == nil && h.limits.DefaultLimit > 0 {
		f.Limit = filter.Int(h.limits.DefaultLimit)
	}
	if f.Limit != nil && h.limits.MaxLimit > 0 && *f.Limit > h.limits.MaxLimit {
		f.Limit = filter.Int(h.limits.MaxLimit)
	}
	return f, nil
}

func queryFilterParam(c *gin.Context) (*filter.Filter, error) {
	f, err := filter.Parse([]byte(c.Query("filter")))
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidFilter, "invalid filter parameter: %v", err)
	}
	return f, nil
}

func queryWhere(c *gin.Context) (filter.Where, error) {
	where, err := filter.ParseWhere([]byte(c.Query("where")))
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidFilter, "invalid where parameter: %v", err)
	}
	return where, nil
}

// pathID converts the :id segment to the primary key's type. It writes the
// error response itself.
func (h *Handler) pathID(c *gin.Context) (any, bool) {
	raw := c.Param("id")
	entity := h.repo.Entity()
	if entity.PrimaryColumn().Type != model.TypeInteger {
		return raw, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid "+entity.Name+" id")
		return nil, false
	}
	return id, true
}

func decodeBody(c *gin.Context) (any, error) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, errors.Wrapf(err, errors.InvalidParams, "invalid JSON body: %v", err)
	}
	return body, nil
}

func objectBody(c *gin.Context) (model.Record, bool) {
	body, err := decodeBody(c)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	obj, ok := body.(map[string]any)
	if !ok {
		response.BadRequest(c, "request body must be an object")
		return nil, false
	}
	return obj, true
}
