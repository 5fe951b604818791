package directory

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/matst80/portmux/internal/obs"
	"github.com/matst80/portmux/internal/web"
)

// DefaultHost is used for HTML links when the request carries no usable
// Host header.
const DefaultHost = "localhost"

type entry struct {
	ID   string
	Host string
	Port int
}

// Handler serves the read-only directory view: the proxyId -> clientPort
// map as JSON, or as an HTML link list when the client asks for text/html.
// Everything outside "/" is not found.
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snapshot := store.Snapshot()
		if strings.Contains(r.Header.Get("Accept"), "text/html") {
			writeHTML(w, r, snapshot)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		b, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(b)
	})
}

func writeHTML(w http.ResponseWriter, r *http.Request, snapshot map[string]int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	host := requestHost(r)
	entries := make([]entry, 0, len(snapshot))
	for id, port := range snapshot {
		entries = append(entries, entry{ID: id, Host: host, Port: port})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	if err := web.Render(w, "directory", map[string]any{"Entries": entries}); err != nil {
		obs.Error("directory.render", obs.Fields{"err": err.Error()})
	}
}

// requestHost extracts the host the client addressed us by, without any
// port, falling back to DefaultHost.
func requestHost(r *http.Request) string {
	host := r.Host
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return DefaultHost
	}
	return host
}
