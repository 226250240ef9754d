package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// ResponseTag prefixes every response frame
const ResponseTag = "/response:"

// Status is the outcome carried by a response
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFail      Status = "fail"
	StatusBusy      Status = "busy"
	StatusAvailable Status = "available"
	StatusLoggedIn  Status = "loggedin"
	StatusKick      Status = "kick"
)

var (
	ErrNotResponse   = errors.New("frame is not a response")
	ErrUnknownStatus = errors.New("unknown response status")
	ErrInvalidUserID = errors.New("invalid user id in response")
)

var knownStatuses = map[Status]bool{
	StatusSuccess:   true,
	StatusFail:      true,
	StatusBusy:      true,
	StatusAvailable: true,
	StatusLoggedIn:  true,
	StatusKick:      true,
}

// Response is the decoded form of a server response frame
type Response struct {
	Status Status

	// Set on a successful signin
	HasUser bool
	Name    string
	UserID  uint64
}

// Simple builds a response carrying only a status
func Simple(status Status) Response {
	return Response{Status: status}
}

// SigninSuccess builds the response sent after a successful signin
func SigninSuccess(name string, userID uint64) Response {
	return Response{Status: StatusSuccess, HasUser: true, Name: name, UserID: userID}
}

// Encode returns the wire payload: /response:<status>[:<name>:<id>]
func (r Response) Encode() string {
	payload := ResponseTag + string(r.Status)
	if r.HasUser {
		payload += ":" + r.Name + ":" + strconv.FormatUint(r.UserID, 10)
	}
	return payload
}

// IsResponse reports whether a payload carries the response tag
func IsResponse(payload string) bool {
	return strings.HasPrefix(payload, ResponseTag)
}

// ParseResponse decodes a response payload. The display name may itself
// contain ':' so the user id is always taken from the last field.
func ParseResponse(payload string) (Response, error) {
	if !IsResponse(payload) {
		return Response{}, ErrNotResponse
	}

	fields := strings.Split(strings.TrimPrefix(payload, ResponseTag), ":")
	status := Status(fields[0])
	if !knownStatuses[status] {
		return Response{}, ErrUnknownStatus
	}

	resp := Response{Status: status}
	if status == StatusSuccess && len(fields) >= 3 {
		id, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
		if err != nil {
			return Response{}, ErrInvalidUserID
		}
		resp.HasUser = true
		resp.Name = strings.Join(fields[1:len(fields)-1], ":")
		resp.UserID = id
	}
	return resp, nil
}
