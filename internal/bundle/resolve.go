package bundle

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Resolution is the pure output of referential resolution: the survivor
// dataset, the canonical archive paths each namespace must extract, and the
// pruning statistics surfaced in the import report. Nothing here has touched
// the filesystem or the store.
type Resolution struct {
	Data       Dataset
	UsedImages map[string]struct{}
	UsedFiles  map[string]struct{}
	UsedQA     map[string]struct{}
	Stats      ResolveStats
}

// ResolveStats counts pruning outcomes that are reported but are not errors.
type ResolveStats struct {
	ProductFilesKept     int
	ProductFilesDropped  int
	LocationCyclesBroken int
}

// Resolve applies the per-table survival rules in dependency order and
// cascades drops transitively through foreign keys. Rows referencing dropped
// rows are silently pruned; the only hard failure is a surviving user without
// a derivable password hash, which aborts the whole import before anything
// destructive happens.
func Resolve(src *Dataset, images, pfiles, qa *Archive) (*Resolution, error) {
	now := time.Now().UTC()
	res := &Resolution{
		UsedImages: make(map[string]struct{}),
		UsedFiles:  make(map[string]struct{}),
		UsedQA:     make(map[string]struct{}),
	}
	out := &res.Data

	out.Locations = resolveLocations(src.Locations, &res.Stats)
	locationIDs := make(map[string]struct{}, len(out.Locations))
	for _, l := range out.Locations {
		locationIDs[l.ID] = struct{}{}
	}

	out.Products = resolveProducts(src.Products, images, res.UsedImages)
	productIDs := make(map[string]struct{}, len(out.Products))
	for _, p := range out.Products {
		productIDs[p.ID] = struct{}{}
	}

	for _, s := range src.Stocks {
		if inSet(productIDs, s.ProductID) && inSet(locationIDs, s.LocationID) {
			out.Stocks = append(out.Stocks, s)
		}
	}
	stockIDs := make(map[string]struct{}, len(out.Stocks))
	for _, s := range out.Stocks {
		stockIDs[s.ID] = struct{}{}
	}

	for _, r := range src.Rentals {
		if inSet(stockIDs, r.StockID) && inSet(productIDs, r.ProductID) && inSet(locationIDs, r.LocationID) {
			out.Rentals = append(out.Rentals, r)
		}
	}
	for _, t := range src.Transfers {
		if inSet(stockIDs, t.StockID) && inSet(locationIDs, t.FromLocation) && inSet(locationIDs, t.ToLocation) {
			out.Transfers = append(out.Transfers, t)
		}
	}
	for _, d := range src.Discarded {
		if inSet(stockIDs, d.StockID) && inSet(productIDs, d.ProductID) && inSet(locationIDs, d.LocationID) {
			out.Discarded = append(out.Discarded, d)
		}
	}
	for _, m := range src.Iams {
		if inSet(stockIDs, m.StockID) {
			out.Iams = append(out.Iams, m)
		}
	}

	out.Devices = src.Devices

	users, err := resolveUsers(src.Users, now)
	if err != nil {
		return nil, err
	}
	out.Users = users

	out.ProductCategories = src.ProductCategories
	categoryIDs := make(map[string]struct{}, len(out.ProductCategories))
	for _, c := range out.ProductCategories {
		categoryIDs[c.ID] = struct{}{}
	}
	for _, it := range src.ProductCategoryItems {
		if inSet(productIDs, it.ProductID) && inSet(categoryIDs, it.CategoryID) {
			out.ProductCategoryItems = append(out.ProductCategoryItems, it)
		}
	}

	out.ProductFiles = resolveProductFiles(src.ProductFiles, productIDs, pfiles, res.UsedFiles, &res.Stats)
	out.QAItems = resolveQAItems(src.QAItems, qa, res.UsedQA, now)

	out.init()
	return res, nil
}

func inSet(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}

// resolveLocations drops every row whose trimmed label collides with another
// row (the whole group dies, not just the duplicates) and every row with an
// empty label, then nulls parent links that point outside the survivor set
// and breaks any parent cycle that remains.
func resolveLocations(in []Location, stats *ResolveStats) []Location {
	counts := make(map[string]int, len(in))
	for _, l := range in {
		counts[strings.TrimSpace(l.Label)]++
	}

	out := make([]Location, 0, len(in))
	for _, l := range in {
		label := strings.TrimSpace(l.Label)
		if label == "" || counts[label] != 1 {
			continue
		}
		out = append(out, l)
	}

	ids := make(map[string]struct{}, len(out))
	for _, l := range out {
		ids[l.ID] = struct{}{}
	}
	for i := range out {
		if out[i].ParentID != nil && !inSet(ids, *out[i].ParentID) {
			out[i].ParentID = nil
		}
	}

	stats.LocationCyclesBroken += breakParentCycles(out)
	return out
}

// breakParentCycles walks every parent chain among survivors and nulls the
// parent link on the node found to close a cycle, forcing that subtree to the
// root. Returns the number of links broken.
func breakParentCycles(locs []Location) int {
	byID := make(map[string]*Location, len(locs))
	for i := range locs {
		byID[locs[i].ID] = &locs[i]
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(locs))
	broken := 0

	var visit func(l *Location)
	visit = func(l *Location) {
		state[l.ID] = visiting
		if l.ParentID != nil {
			parent := byID[*l.ParentID]
			switch state[parent.ID] {
			case visiting:
				l.ParentID = nil
				broken++
			case unvisited:
				visit(parent)
			}
		}
		state[l.ID] = done
	}

	for i := range locs {
		if state[locs[i].ID] == unvisited {
			visit(&locs[i])
		}
	}
	return broken
}

// resolveProducts deduplicates on (trimmed brand, trimmed model) keeping the
// first occurrence, then verifies each survivor's localImage against the
// images archive: present entries are rewritten to the canonical absolute
// path and marked used, missing ones clear both image fields.
func resolveProducts(in []Product, images *Archive, used map[string]struct{}) []Product {
	seen := make(map[string]struct{}, len(in))
	out := make([]Product, 0, len(in))

	for _, p := range in {
		key := strings.TrimSpace(p.Brand) + "|" + strings.TrimSpace(p.Model)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if p.LocalImage != nil && *p.LocalImage != "" {
			rel := imageRel(*p.LocalImage)
			if images.Has(rel) {
				abs := "/" + rel
				p.LocalImage = &abs
				used[rel] = struct{}{}
			} else {
				p.LocalImage = nil
				p.ImageLink = nil
			}
		}
		out = append(out, p)
	}
	return out
}

// resolveProductFiles keeps rows whose product survives and whose file lists
// still resolve to at least one archive entry. Each listed filename is tried
// against its candidate canonical paths; the first hit wins. SizeBytes is
// recomputed from the archive's uncompressed sizes, never copied from input.
func resolveProductFiles(in []ProductFile, productIDs map[string]struct{}, pfiles *Archive, used map[string]struct{}, stats *ResolveStats) []ProductFile {
	out := make([]ProductFile, 0, len(in))

	for _, pf := range in {
		if !inSet(productIDs, pf.ProductID) {
			stats.ProductFilesDropped++
			continue
		}

		pfPath := ""
		if pf.Path != nil {
			pfPath = *pf.Path
		}

		cleaned := make(map[string][]string)
		var total int64
		for cat, names := range pf.Files {
			var kept []string
			for _, name := range names {
				for _, rel := range fileCandidates(pf.ID, pf.ProductID, pfPath, name) {
					if !pfiles.Has(rel) {
						continue
					}
					kept = append(kept, name)
					used[rel] = struct{}{}
					if size, ok := pfiles.Size(rel); ok {
						total += size
					}
					break
				}
			}
			if len(kept) > 0 {
				cleaned[cat] = kept
			}
		}

		if len(cleaned) == 0 {
			stats.ProductFilesDropped++
			continue
		}

		pf.Files = cleaned
		if total > 0 {
			pf.SizeBytes = &total
		} else {
			pf.SizeBytes = nil
		}
		out = append(out, pf)
		stats.ProductFilesKept++
	}
	return out
}

// phcPattern matches PHC-framed hashes (argon2, scrypt, pbkdf2 variants).
// bcrypt is validated structurally instead, since its framing predates PHC.
var phcPattern = regexp.MustCompile(`^\$(argon2(?:id|i|d)|scrypt|pbkdf2[^$]*)\$`)

// derivableHash reports whether a password value is an already-hashed string
// the store can persist: a structurally valid bcrypt hash or a PHC-framed
// hash. Plaintext never qualifies.
func derivableHash(s string) bool {
	if s == "" {
		return false
	}
	if _, err := bcrypt.Cost([]byte(s)); err == nil {
		return true
	}
	return phcPattern.MatchString(s)
}

// maxHashSamples limits how many offending rows a validation error names.
const maxHashSamples = 10

// resolveUsers derives each row's password hash (passwordHash verbatim, or a
// password field that is itself a well-formed hash) and aborts the import if
// any row ends up without one. Survivors are deduplicated by case-insensitive
// username, first occurrence wins; rows with empty usernames are dropped.
func resolveUsers(in []User, now time.Time) ([]User, error) {
	cleaned := make([]User, 0, len(in))
	for _, u := range in {
		if u.ID == "" {
			u.ID = uuid.New().String()
		}
		u.Username = strings.TrimSpace(u.Username)
		if u.Email != nil {
			email := strings.TrimSpace(*u.Email)
			u.Email = &email
		}

		switch {
		case u.PasswordHash != nil && *u.PasswordHash != "":
			// keep verbatim
		case derivableHash(u.Password):
			hash := u.Password
			u.PasswordHash = &hash
		default:
			u.PasswordHash = nil
		}
		u.Password = ""

		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		cleaned = append(cleaned, u)
	}

	var missing []string
	for _, u := range cleaned {
		if u.PasswordHash == nil {
			name := u.Username
			if name == "" {
				name = u.ID
			}
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		samples := missing
		if len(samples) > maxHashSamples {
			samples = samples[:maxHashSamples]
		}
		return nil, &ValidationError{
			Rule:    "users without a derivable password hash",
			Samples: samples,
			Total:   len(missing),
		}
	}

	seen := make(map[string]struct{}, len(cleaned))
	out := make([]User, 0, len(cleaned))
	for _, u := range cleaned {
		if u.Username == "" {
			continue
		}
		key := strings.ToLower(u.Username)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

// resolveQAItems normalizes every item (always kept) and marks each markdown
// asset reference as used when the QA archive actually contains it; missing
// references are ignored, not errors.
func resolveQAItems(in []QAItem, qa *Archive, used map[string]struct{}, now time.Time) []QAItem {
	out := make([]QAItem, 0, len(in))
	for _, q := range in {
		if q.ID == "" {
			q.ID = newQAID(now)
		}
		q.Title = strings.TrimSpace(q.Title)

		tags := make([]string, 0, len(q.Tags))
		for _, t := range q.Tags {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		q.Tags = tags

		if q.CreatedAt.IsZero() {
			q.CreatedAt = now
		}
		if q.UpdatedAt.IsZero() {
			q.UpdatedAt = now
		}

		for _, rel := range qaAssetRefs(q.ContentMd) {
			if strings.HasPrefix(rel, QAPrefix) && qa.Has(rel) {
				used[rel] = struct{}{}
			}
		}
		out = append(out, q)
	}
	return out
}

func newQAID(now time.Time) string {
	return "qa_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + uuid.New().String()[:8]
}
