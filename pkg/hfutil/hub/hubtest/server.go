// Package hubtest provides an in-memory Hugging Face Hub for tests. It
// speaks the subset of the HTTP API the hub client uses: repo creation,
// tree listing, resolve downloads, preupload, git-lfs batch (basic and
// multipart) and NDJSON commits, plus the datasets-server rows endpoint.
package hubtest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Server is a fake Hub. Zero thresholds mean every file is regular and LFS
// uploads are single PUTs.
type Server struct {
	*httptest.Server

	// LFSThreshold is the size above which preupload answers "lfs".
	LFSThreshold int64
	// ChunkSize, when set, makes LFS objects larger than it use multipart.
	ChunkSize int64
	// PageSize, when set, paginates tree listings with Link headers.
	PageSize int
	// FailNext makes the next n requests matching a path prefix fail with 500.
	FailNext map[string]int

	mu       sync.Mutex
	repos    map[string]map[string][]byte
	lfs      map[string][]byte
	parts    map[string]map[int][]byte
	rows     map[string][]map[string]interface{}
	commits  []string
	requests []string
	tokens   []string
}

// NewServer starts a fake Hub; call Close when done.
func NewServer() *Server {
	s := &Server{
		FailNext: map[string]int{},
		repos:    map[string]map[string][]byte{},
		lfs:      map[string][]byte{},
		parts:    map[string]map[int][]byte{},
		rows:     map[string][]map[string]interface{}{},
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Post("/api/repos/create", s.createRepo)
	r.Get("/api/{type}s/{ns}/{name}/tree/{rev}", s.tree)
	r.Post("/api/{type}s/{ns}/{name}/preupload/{rev}", s.preupload)
	r.Post("/api/{type}s/{ns}/{name}/commit/{rev}", s.commit)
	r.Get("/datasets/{ns}/{name}/resolve/{rev}/*", s.resolve("dataset"))
	r.Get("/spaces/{ns}/{name}/resolve/{rev}/*", s.resolve("space"))
	r.Get("/{ns}/{name}/resolve/{rev}/*", s.resolve("model"))
	r.Put("/lfs-storage/{oid}", s.putObject)
	r.Put("/lfs-storage/{oid}/part/{n}", s.putPart)
	r.Post("/lfs-storage/{oid}/complete", s.completeMultipart)
	r.Get("/rows", s.datasetRows)
	r.Post("/*", s.lfsBatch)

	s.Server = httptest.NewServer(r)
	return s
}

func repoKey(repoType, repoID string) string { return repoType + "/" + repoID }

// CreateRepo registers an empty repository.
func (s *Server) CreateRepo(repoType, repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[repoKey(repoType, repoID)]; !ok {
		s.repos[repoKey(repoType, repoID)] = map[string][]byte{}
	}
}

// PutFile stores a file, creating the repository if needed.
func (s *Server) PutFile(repoType, repoID, path string, content []byte) {
	s.CreateRepo(repoType, repoID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repoKey(repoType, repoID)][path] = content
}

// File returns a stored file.
func (s *Server) File(repoType, repoID, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.repos[repoKey(repoType, repoID)][path]
	return b, ok
}

// Files lists the stored paths of a repository, sorted.
func (s *Server) Files(repoType, repoID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.repos[repoKey(repoType, repoID)] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RepoExists reports whether the repository was created.
func (s *Server) RepoExists(repoType, repoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.repos[repoKey(repoType, repoID)]
	return ok
}

// SetRows seeds the datasets-server rows of dataset/config/split.
func (s *Server) SetRows(dataset, config, split string, rows []map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[dataset+"|"+config+"|"+split] = rows
}

// Commits returns the summaries of all commits received.
func (s *Server) Commits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commits...)
}

// Requests returns "METHOD /path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Tokens returns the Authorization headers received, in order.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.tokens = append(s.tokens, r.Header.Get("Authorization"))
		for prefix, n := range s.FailNext {
			if n > 0 && strings.HasPrefix(r.URL.Path, prefix) {
				s.FailNext[prefix] = n - 1
				s.mu.Unlock()
				http.Error(w, "injected failure", http.StatusInternalServerError)
				return
			}
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) repoFiles(w http.ResponseWriter, repoType, repoID string) (map[string][]byte, bool) {
	files, ok := s.repos[repoKey(repoType, repoID)]
	if !ok {
		http.Error(w, "Repository not found", http.StatusNotFound)
	}
	return files, ok
}

func (s *Server) createRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		Organization string `json:"organization"`
		Type         string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	repoType := req.Type
	if repoType == "" {
		repoType = "model"
	}
	repoID := req.Name
	if req.Organization != "" {
		repoID = req.Organization + "/" + req.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[repoKey(repoType, repoID)]; ok {
		http.Error(w, "You already created this repo", http.StatusConflict)
		return
	}
	s.repos[repoKey(repoType, repoID)] = map[string][]byte{}
	writeJSON(w, map[string]string{"url": s.URL + "/" + repoID})
}

func (s *Server) tree(w http.ResponseWriter, r *http.Request) {
	repoType := chi.URLParam(r, "type")
	repoID := chi.URLParam(r, "ns") + "/" + chi.URLParam(r, "name")

	s.mu.Lock()
	files, ok := s.repoFiles(w, repoType, repoID)
	if !ok {
		s.mu.Unlock()
		return
	}

	type entry struct {
		Type string `json:"type"`
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	dirs := map[string]bool{}
	var entries []entry
	for p, b := range files {
		entries = append(entries, entry{Type: "file", Path: p, Size: int64(len(b))})
		for d := p; strings.Contains(d, "/"); {
			d = d[:strings.LastIndex(d, "/")]
			dirs[d] = true
		}
	}
	s.mu.Unlock()
	for d := range dirs {
		entries = append(entries, entry{Type: "directory", Path: d})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if s.PageSize > 0 {
		offset, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
		end := offset + s.PageSize
		if end < len(entries) {
			q := r.URL.Query()
			q.Set("cursor", strconv.Itoa(end))
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?%s>; rel="next"`, s.URL, r.URL.Path, q.Encode()))
		} else {
			end = len(entries)
		}
		if offset > len(entries) {
			offset = len(entries)
		}
		entries = entries[offset:end]
	}
	if entries == nil {
		entries = []entry{}
	}
	writeJSON(w, entries)
}

func (s *Server) resolve(repoType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoID := chi.URLParam(r, "ns") + "/" + chi.URLParam(r, "name")
		path := chi.URLParam(r, "*")

		s.mu.Lock()
		files, ok := s.repoFiles(w, repoType, repoID)
		var content []byte
		var found bool
		if ok {
			content, found = files[path]
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		if !found {
			w.Header().Set("X-Error-Code", "EntryNotFound")
			http.Error(w, "Entry not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content)
	}
}

func (s *Server) preupload(w http.ResponseWriter, r *http.Request) {
	repoType := chi.URLParam(r, "type")
	repoID := chi.URLParam(r, "ns") + "/" + chi.URLParam(r, "name")

	s.mu.Lock()
	_, ok := s.repoFiles(w, repoType, repoID)
	s.mu.Unlock()
	if !ok {
		return
	}

	var req struct {
		Files []struct {
			Path string `json:"path"`
			Size int64  `json:"size"`
		} `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type mode struct {
		Path         string `json:"path"`
		UploadMode   string `json:"uploadMode"`
		ShouldIgnore bool   `json:"shouldIgnore"`
	}
	out := struct {
		Files []mode `json:"files"`
	}{}
	for _, f := range req.Files {
		m := "regular"
		if s.LFSThreshold > 0 && f.Size > s.LFSThreshold {
			m = "lfs"
		}
		out.Files = append(out.Files, mode{Path: f.Path, UploadMode: m})
	}
	writeJSON(w, out)
}

func (s *Server) lfsBatch(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, ".git/info/lfs/objects/batch") {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Objects []struct {
			OID  string `json:"oid"`
			Size int64  `json:"size"`
		} `json:"objects"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type action struct {
		Href   string            `json:"href"`
		Header map[string]string `json:"header,omitempty"`
	}
	type object struct {
		OID     string             `json:"oid"`
		Size    int64              `json:"size"`
		Actions map[string]*action `json:"actions,omitempty"`
	}
	out := struct {
		Objects []object `json:"objects"`
	}{}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range req.Objects {
		obj := object{OID: o.OID, Size: o.Size}
		if _, stored := s.lfs[o.OID]; !stored {
			upload := &action{Href: s.URL + "/lfs-storage/" + o.OID}
			if s.ChunkSize > 0 && o.Size > s.ChunkSize {
				upload.Href += "/complete"
				upload.Header = map[string]string{"chunk_size": strconv.FormatInt(s.ChunkSize, 10)}
				n := int((o.Size + s.ChunkSize - 1) / s.ChunkSize)
				for i := 1; i <= n; i++ {
					upload.Header[strconv.Itoa(i)] = fmt.Sprintf("%s/lfs-storage/%s/part/%d", s.URL, o.OID, i)
				}
			}
			obj.Actions = map[string]*action{"upload": upload}
		}
		out.Objects = append(out.Objects, obj)
	}
	w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	oid := chi.URLParam(r, "oid")
	if sum := sha256.Sum256(body); hex.EncodeToString(sum[:]) != oid {
		http.Error(w, "checksum mismatch", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.lfs[oid] = body
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) putPart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	oid := chi.URLParam(r, "oid")
	n, _ := strconv.Atoi(chi.URLParam(r, "n"))

	s.mu.Lock()
	if s.parts[oid] == nil {
		s.parts[oid] = map[int][]byte{}
	}
	s.parts[oid][n] = body
	s.mu.Unlock()

	sum := sha256.Sum256(body)
	w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:8])+`"`)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) completeMultipart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OID   string `json:"oid"`
		Parts []struct {
			PartNumber int    `json:"partNumber"`
			ETag       string `json:"etag"`
		} `json:"parts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	for _, p := range req.Parts {
		part, ok := s.parts[req.OID][p.PartNumber]
		if !ok || p.ETag == "" {
			http.Error(w, fmt.Sprintf("missing part %d", p.PartNumber), http.StatusBadRequest)
			return
		}
		buf.Write(part)
	}
	if sum := sha256.Sum256(buf.Bytes()); hex.EncodeToString(sum[:]) != req.OID {
		http.Error(w, "checksum mismatch", http.StatusBadRequest)
		return
	}
	s.lfs[req.OID] = buf.Bytes()
	delete(s.parts, req.OID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	repoType := chi.URLParam(r, "type")
	repoID := chi.URLParam(r, "ns") + "/" + chi.URLParam(r, "name")

	s.mu.Lock()
	defer s.mu.Unlock()
	files, ok := s.repoFiles(w, repoType, repoID)
	if !ok {
		return
	}

	staged := map[string][]byte{}
	summary := ""
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<30)
	for scanner.Scan() {
		var line struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch line.Key {
		case "header":
			var h struct {
				Summary string `json:"summary"`
			}
			_ = json.Unmarshal(line.Value, &h)
			summary = h.Summary
		case "file":
			var f struct {
				Content  string `json:"content"`
				Path     string `json:"path"`
				Encoding string `json:"encoding"`
			}
			_ = json.Unmarshal(line.Value, &f)
			content, err := base64.StdEncoding.DecodeString(f.Content)
			if err != nil || f.Encoding != "base64" {
				http.Error(w, "bad file content", http.StatusBadRequest)
				return
			}
			staged[f.Path] = content
		case "lfsFile":
			var f struct {
				Path string `json:"path"`
				OID  string `json:"oid"`
			}
			_ = json.Unmarshal(line.Value, &f)
			content, ok := s.lfs[f.OID]
			if !ok {
				http.Error(w, "lfs object "+f.OID+" was never uploaded", http.StatusUnprocessableEntity)
				return
			}
			staged[f.Path] = content
		default:
			http.Error(w, "unknown key "+line.Key, http.StatusBadRequest)
			return
		}
	}
	if summary == "" {
		http.Error(w, "missing header", http.StatusBadRequest)
		return
	}

	for p, b := range staged {
		files[p] = b
	}
	s.commits = append(s.commits, summary)
	oid := fmt.Sprintf("%040d", len(s.commits))
	writeJSON(w, map[string]string{
		"commitUrl": s.URL + "/" + repoID + "/commit/" + oid,
		"commitOid": oid,
	})
}

func (s *Server) datasetRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	rows, ok := s.rows[q.Get("dataset")+"|"+q.Get("config")+"|"+q.Get("split")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"The split does not exist."}`, http.StatusNotFound)
		return
	}

	offset, _ := strconv.Atoi(q.Get("offset"))
	length, _ := strconv.Atoi(q.Get("length"))
	if length <= 0 {
		length = 100
	}
	end := min(offset+length, len(rows))
	if offset > end {
		offset = end
	}

	type row struct {
		RowIdx int                    `json:"row_idx"`
		Row    map[string]interface{} `json:"row"`
	}
	out := struct {
		Rows         []row `json:"rows"`
		NumRowsTotal int   `json:"num_rows_total"`
	}{NumRowsTotal: len(rows), Rows: []row{}}
	for i := offset; i < end; i++ {
		out.Rows = append(out.Rows, row{RowIdx: i, Row: rows[i]})
	}
	writeJSON(w, out)
}
