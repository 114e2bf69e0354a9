package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ParsePathString returns a required path variable
func ParsePathString(r *http.Request, key string) (string, error) {
	value, ok := mux.Vars(r)[key]
	if !ok || value == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return value, nil
}

// ParseQueryInt returns an integer query parameter or a default
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, value)
	}
	return n, nil
}

// ParseQueryString returns a query parameter or a default
func ParseQueryString(r *http.Request, key, defaultVal string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultVal
}

// ID kinds accepted by ParseID.
const (
	IDKindAuto     = "auto"
	IDKindObjectID = "objectid"
	IDKindInt      = "int"
	IDKindString   = "string"
)

// ParseID converts a textual document id. In auto mode a 24 character hex
// string becomes an ObjectID, an integer becomes int64 and anything else
// stays a string.
func ParseID(raw, kind string) (any, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty id")
	}
	switch kind {
	case "", IDKindAuto:
		if oid, err := bson.ObjectIDFromHex(raw); err == nil {
			return oid, nil
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		return raw, nil
	case IDKindObjectID:
		oid, err := bson.ObjectIDFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid object id %q", raw)
		}
		return oid, nil
	case IDKindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer id %q", raw)
		}
		return n, nil
	case IDKindString:
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown id kind %q", kind)
	}
}
