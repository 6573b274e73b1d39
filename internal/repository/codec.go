package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/query"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
)

// encodeValue converts a caller value to the form bound for col.
func encodeValue(dialect query.Dialect, col model.Column, raw any) (any, error) {
	v, err := query.Normalize(raw)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidParams, "field %q: %v", col.Name, err)
	}
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case model.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case model.TypeInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) && math.Abs(n) <= math.MaxInt64 {
				return int64(n), nil
			}
		}
	case model.TypeNumber:
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case model.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case model.TypeTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			if parsed, ok := query.ParseTimestamp(t); ok {
				return parsed, nil
			}
		}
	case model.TypeJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, errors.InvalidParams, "field %q: %v", col.Name, err)
		}
		if err := col.ValidateJSON(data); err != nil {
			return nil, errors.Wrapf(err, errors.ValidationFailed, "field %q: %v", col.Name, err).
				WithDetail("field", col.Name)
		}
		return string(data), nil
	case model.TypeArray:
		if list, ok := v.([]any); ok {
			encoded, err := dialect.EncodeArray(list, col.ElementType)
			if err != nil {
				return nil, errors.Wrapf(err, errors.InvalidParams, "field %q: %v", col.Name, err)
			}
			return encoded, nil
		}
	}
	return nil, errors.Newf(errors.InvalidParams, "field %q expects %s, got %T", col.Name, col.Type, raw).
		WithDetail("field", col.Name)
}

// decodeValue converts a scanned driver value to the record form of col.
func decodeValue(dialect query.Dialect, col model.Column, src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	switch col.Type {
	case model.TypeInteger:
		switch v := src.(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case []byte, string:
			return strconv.ParseInt(strings.TrimSpace(asString(v)), 10, 64)
		}
	case model.TypeNumber:
		switch v := src.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case []byte, string:
			return strconv.ParseFloat(strings.TrimSpace(asString(v)), 64)
		}
	case model.TypeBoolean:
		switch v := src.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte, string:
			return strconv.ParseBool(asString(v))
		}
	case model.TypeString:
		switch v := src.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		}
		return fmt.Sprint(src), nil
	case model.TypeTimestamp:
		switch v := src.(type) {
		case time.Time:
			return v.UTC(), nil
		case []byte, string:
			if t, ok := query.ParseTimestamp(asString(v)); ok {
				return t, nil
			}
		}
	case model.TypeJSON:
		switch v := src.(type) {
		case []byte, string:
			return decodeJSON([]byte(asString(v)))
		}
	case model.TypeArray:
		return dialect.DecodeArray(src, col.ElementType)
	}
	return nil, fmt.Errorf("cannot decode %s column %q from %T", col.Type, col.Name, src)
}

// restoreValue converts a value read back from the cache's JSON encoding.
func restoreValue(dialect query.Dialect, col model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case model.TypeJSON:
		return query.Normalize(v)
	case model.TypeArray:
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("cached array %q has type %T", col.Name, v)
		}
		elem := model.Column{Name: col.Name, Type: col.ElementType}
		out := make([]any, len(list))
		for i, item := range list {
			restored, err := restoreValue(dialect, elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = restored
		}
		return out, nil
	case model.TypeInteger, model.TypeNumber:
		n, err := query.Normalize(v)
		if err != nil {
			return nil, err
		}
		return decodeValue(dialect, col, n)
	}
	return decodeValue(dialect, col, v)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return query.Normalize(v)
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	s, _ := v.(string)
	return s
}

// scanRecords reads every row, decoding the columns named by fields.
func scanRecords(dialect query.Dialect, entity *model.Entity, rows db.Rows, fields []string) ([]model.Record, error) {
	out := make([]model.Record, 0)
	cols := make([]model.Column, len(fields))
	for i, name := range fields {
		col, ok := entity.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q on %s", name, entity.Name)
		}
		cols[i] = col
	}
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := make(model.Record, len(cols))
		for i, col := range cols {
			v, err := decodeValue(dialect, col, raw[i])
			if err != nil {
				return nil, err
			}
			rec[col.Name] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
