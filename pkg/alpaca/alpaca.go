// Documentation: https://ascom-standards.org/api/

package alpaca

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Global transaction counter
var txCounter atomic.Int32

type baseResponse struct {
	ClientTransactionID int    `json:"ClientTransactionID"`
	ServerTransactionID int    `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

// Helper to read and parse the request body as URL-encoded data.
func parseBodyParams(r *http.Request) (url.Values, error) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	// Reset the body so it can be read again later.
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return url.ParseQuery(string(bodyBytes))
}

func requestParams(r *http.Request) url.Values {
	if r.Method == http.MethodPut {
		// PUT requests have the parameters in the body.
		params, _ := parseBodyParams(r)
		return params
	}
	// GET requests have the parameters in the URL.
	return r.URL.Query()
}

// lookupParam finds a parameter ignoring the case of its name, as Alpaca
// clients are free to choose it.
func lookupParam(params url.Values, field string) (string, bool) {
	for param, value := range params {
		if strings.EqualFold(param, field) && len(value) > 0 {
			return value[0], true
		}
	}
	return "", false
}

// getClientTxID obtains the client transaction ID from the request. A missing
// ID is reported as 0.
func getClientTxID(params url.Values, path string) (int, error) {
	if strings.HasPrefix(path, "/management") {
		return 0, nil
	}

	value, ok := lookupParam(params, "ClientTransactionID")
	if !ok {
		return 0, nil
	}
	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, errors.New("ClientTransactionID must be a non-negative integer")
	}
	return int(id), nil
}

func writeResponse(w http.ResponseWriter, r *http.Request, response baseResponse) {
	txID, err := getClientTxID(requestParams(r), r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response.ServerTransactionID = int(txCounter.Add(1))
	response.ClientTransactionID = txID

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func handleResponse(w http.ResponseWriter, r *http.Request, value any) {
	writeResponse(w, r, baseResponse{Value: value})
}

// handleError reports err inside the Alpaca envelope. Errors that are not
// *Error are reported as driver errors.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	writeResponse(w, r, baseResponse{
		ErrorNumber:  errorNumber(err),
		ErrorMessage: err.Error(),
	})
}

// parseRequest reads a field from the request body.
func parseRequest(r *http.Request, field string) (string, error) {
	params, err := parseBodyParams(r)
	if err != nil {
		return "", err
	}

	value, ok := lookupParam(params, field)
	if !ok {
		return "", InvalidValue("missing field %s", field)
	}
	return value, nil
}

func parseBoolRequest(r *http.Request, field string) (bool, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, InvalidValue("invalid %s: %s", field, value)
	}
	return b, nil
}

func parseFloatRequest(r *http.Request, field string) (float64, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, InvalidValue("invalid %s: %s", field, value)
	}
	return f, nil
}

func parseTimeRequest(r *http.Request, field string) (time.Time, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, InvalidValue("invalid %s: %s", field, value)
	}
	return t, nil
}

// formatUTCDate renders t the way Alpaca clients expect utcdate.
func formatUTCDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.0000000Z")
}

func deviceURL(prefix string, info DeviceInfo) string {
	return fmt.Sprintf("%s/%s/%d", prefix, strings.ToLower(info.Type.String()), info.Number)
}
