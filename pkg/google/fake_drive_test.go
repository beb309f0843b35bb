package google

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"
)

var (
	queryName   = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)'`)
	queryParent = regexp.MustCompile(`'((?:[^'\\]|\\.)*)' in parents`)
)

// fakeDrive is an in-memory stand-in for the subset of the Drive v3 API the
// client uses.
type fakeDrive struct {
	t *testing.T

	mu      sync.Mutex
	files   map[string]*drive.File
	content map[string]string
	nextID  int
	calls   map[string]int

	uploadType    string
	uploadMeta    drive.File
	uploadMediaCT string
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	f := &fakeDrive{
		t:       t,
		files:   make(map[string]*drive.File),
		content: make(map[string]string),
		calls:   make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeDrive) add(file *drive.File, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[file.Id] = file
	f.content[file.Id] = content
}

func (f *fakeDrive) file(id string) *drive.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[id]; ok {
		copied := *file
		return &copied
	}
	return nil
}

func (f *fakeDrive) body(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[id]
}

func (f *fakeDrive) lastUpload() (uploadType string, meta drive.File, mediaCT string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadType, f.uploadMeta, f.uploadMediaCT
}

func (f *fakeDrive) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func (f *fakeDrive) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeDrive) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	idx := strings.LastIndex(path, "/files")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(path[idx+len("/files"):], "/")
	upload := strings.Contains(path, "/upload/")

	switch {
	case id == "" && r.Method == http.MethodGet:
		f.calls["list"]++
		f.list(w, r.URL.Query().Get("q"))
	case id == "" && r.Method == http.MethodPost:
		f.calls["create"]++
		f.create(w, r)
	case upload && r.Method == http.MethodPatch:
		f.calls["upload"]++
		f.upload(w, r, id)
	case r.Method == http.MethodPatch:
		f.calls["update"]++
		f.update(w, r, id)
	case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
		f.calls["download"]++
		content, ok := f.content[id]
		if !ok {
			writeError(w, http.StatusNotFound, "File not found: "+id)
			return
		}
		io.WriteString(w, content)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeDrive) list(w http.ResponseWriter, q string) {
	var name, parent string
	if m := queryName.FindStringSubmatch(q); m != nil {
		name = unescapeQuery(m[1])
	}
	if m := queryParent.FindStringSubmatch(q); m != nil {
		parent = unescapeQuery(m[1])
	}
	wantFolder := strings.Contains(q, folderMimeType)

	ids := make([]string, 0, len(f.files))
	for id := range f.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := &drive.FileList{Files: []*drive.File{}}
	for _, id := range ids {
		file := f.files[id]
		if file.Name != name || (file.MimeType == folderMimeType) != wantFolder {
			continue
		}
		if parent != "" && !contains(file.Parents, parent) {
			continue
		}
		out.Files = append(out.Files, file)
	}
	writeJSON(w, out)
}

func (f *fakeDrive) create(w http.ResponseWriter, r *http.Request) {
	var file drive.File
	if err := json.NewDecoder(r.Body).Decode(&file); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.nextID++
	file.Id = fmt.Sprintf("id-%d", f.nextID)
	file.ModifiedTime = "2024-01-01T00:00:00Z"
	if len(file.Parents) == 0 {
		file.Parents = []string{"root"}
	}
	f.files[file.Id] = &file
	f.content[file.Id] = ""
	writeJSON(w, &file)
}

func (f *fakeDrive) update(w http.ResponseWriter, r *http.Request, id string) {
	file, ok := f.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	q := r.URL.Query()
	if remove := q.Get("removeParents"); remove != "" {
		var kept []string
		for _, p := range file.Parents {
			if !contains(strings.Split(remove, ","), p) {
				kept = append(kept, p)
			}
		}
		file.Parents = kept
	}
	if add := q.Get("addParents"); add != "" {
		file.Parents = append(file.Parents, strings.Split(add, ",")...)
	}
	writeJSON(w, file)
}

func (f *fakeDrive) upload(w http.ResponseWriter, r *http.Request, id string) {
	file, ok := f.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	f.uploadType = r.URL.Query().Get("uploadType")

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		f.t.Errorf("expected multipart/related upload, got %q (%v)", r.Header.Get("Content-Type"), err)
		writeError(w, http.StatusBadRequest, "bad content type")
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.uploadMeta = drive.File{}
	if err := json.NewDecoder(metaPart).Decode(&f.uploadMeta); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mediaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.uploadMediaCT = mediaPart.Header.Get("Content-Type")
	body, err := io.ReadAll(mediaPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.content[id] = string(body)
	if f.uploadMeta.ModifiedTime != "" {
		file.ModifiedTime = f.uploadMeta.ModifiedTime
	}
	writeJSON(w, file)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func unescapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\'`, `'`)
	return strings.ReplaceAll(s, `\\`, `\`)
}
