package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/pitabwire/cooldialog/model"
)

// Query parameters understood by URLLocation. Any other parameter is passed
// to the started procedure.
const (
	ParamAction      = "action"
	ParamProcedure   = "procedure"
	ParamID          = "id"
	ParamDialect     = "dialect"
	ParamRestart     = "restart"
	ParamCommandLine = "commandLine"
	ParamIndex       = "index"
)

// ErrInvalidLocation is wrapped by every location parsing error.
var ErrInvalidLocation = errors.New("invalid location")

// LocationDefaults fill in what the location URL leaves out.
type LocationDefaults struct {
	Procedure   string
	CommandLine string
	Dialect     string
}

// URLLocation derives the startup action from a URL and writes the session
// index back into its query. It implements model.DialogLocation.
type URLLocation struct {
	mu       sync.RWMutex
	u        *url.URL
	defaults LocationDefaults
}

// ParseLocation parses raw into a location. An empty raw is a location
// with no parameters.
func ParseLocation(raw string, defaults LocationDefaults) (*URLLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidLocation, raw, err)
	}
	return &URLLocation{u: u, defaults: defaults}, nil
}

// InitState maps the query to a startup action. An explicit action wins.
// Otherwise a procedure starts it, and a known index alone resumes the
// session with Current.
func (l *URLLocation) InitState(context.Context) (model.InitialAction, error) {
	l.mu.RLock()
	q := l.u.Query()
	l.mu.RUnlock()

	st := model.InitialAction{
		Action:      model.RequestType(q.Get(ParamAction)),
		Procedure:   q.Get(ParamProcedure),
		Dialect:     q.Get(ParamDialect),
		CommandLine: q.Get(ParamCommandLine),
		Index:       q.Get(ParamIndex),
	}
	if v := q.Get(ParamID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.InitialAction{}, fmt.Errorf("%w: bad %s %q", ErrInvalidLocation, ParamID, v)
		}
		st.ID = id
	}
	if v := q.Get(ParamRestart); v != "" {
		restart, err := strconv.ParseBool(v)
		if err != nil {
			return model.InitialAction{}, fmt.Errorf("%w: bad %s %q", ErrInvalidLocation, ParamRestart, v)
		}
		st.Restart = restart
	}

	for name, values := range q {
		if reserved(name) || len(values) == 0 {
			continue
		}
		if st.Params == nil {
			st.Params = make(map[string]any)
		}
		if len(values) == 1 {
			st.Params[name] = values[0]
		} else {
			st.Params[name] = append([]string(nil), values...)
		}
	}

	if st.Dialect == "" {
		st.Dialect = l.defaults.Dialect
	}
	if st.Action == "" {
		switch {
		case st.Procedure != "":
			st.Action = model.RequestStart
		case st.Index != "":
			st.Action = model.RequestCurrent
		default:
			st.Action = model.RequestStart
		}
	}
	if st.Action == model.RequestStart && st.Procedure == "" {
		st.Procedure = l.defaults.Procedure
		if st.CommandLine == "" {
			st.CommandLine = l.defaults.CommandLine
		}
	}

	switch st.Action {
	case model.RequestStart, model.RequestGet, model.RequestFork, model.RequestCurrent, model.RequestChangeDialect:
	default:
		return model.InitialAction{}, fmt.Errorf("%w: unsupported action %q", ErrInvalidLocation, st.Action)
	}
	return st, nil
}

// SetIndex stores index in the query, dropping the startup parameters so a
// reload resumes the session instead of starting again.
func (l *URLLocation) SetIndex(index string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.u.Query()
	if q.Get(ParamIndex) == index {
		return
	}
	for _, name := range []string{ParamAction, ParamProcedure, ParamID, ParamRestart, ParamCommandLine} {
		q.Del(name)
	}
	if index == "" {
		q.Del(ParamIndex)
	} else {
		q.Set(ParamIndex, index)
	}
	l.u.RawQuery = q.Encode()
}

// Index returns the stored session index.
func (l *URLLocation) Index() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.u.Query().Get(ParamIndex)
}

// String returns the current location.
func (l *URLLocation) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.u.String()
}

func reserved(name string) bool {
	switch name {
	case ParamAction, ParamProcedure, ParamID, ParamDialect, ParamRestart, ParamCommandLine, ParamIndex:
		return true
	}
	return strings.HasPrefix(name, "_")
}
