package reactor

import (
	"encoding/base64"
	"sort"
)

// pageToken is the decoded form of an opaque page token: the name of the
// last operation returned on the prior page.
type pageToken struct {
	lastName string
}

func encodePageToken(lastName string) string {
	if lastName == "" {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(lastName))
}

func decodePageToken(token string) (pageToken, error) {
	if token == "" {
		return pageToken{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return pageToken{}, ErrInvalidArgument
	}
	return pageToken{lastName: string(raw)}, nil
}

// ListOperations walks names (already in key order) starting just after
// the operation named in token, exclusive, and returns up to pageSize
// names plus the token for the next page ("" once exhausted). A
// malformed token raises ErrInvalidArgument.
func ListOperations(names []string, token string, pageSize int) (page []string, nextToken string, err error) {
	pt, err := decodePageToken(token)
	if err != nil {
		return nil, "", err
	}

	start := 0
	if pt.lastName != "" {
		// names is sorted; find the first entry strictly greater than
		// lastName (i.e. skip the named operation, exclusive).
		start = sort.SearchStrings(names, pt.lastName)
		if start < len(names) && names[start] == pt.lastName {
			start++
		}
	}

	if start >= len(names) {
		return nil, "", nil
	}

	end := start + pageSize
	if pageSize <= 0 || end > len(names) {
		end = len(names)
	}

	page = names[start:end]
	if end < len(names) {
		nextToken = encodePageToken(page[len(page)-1])
	}
	return page, nextToken, nil
}
