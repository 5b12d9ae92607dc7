package bundle

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func emptyArchives(t *testing.T) (images, pfiles, qa *Archive) {
	t.Helper()
	return mustArchive(t, ImagesPrefix, nil),
		mustArchive(t, FilesPrefix, nil),
		mustArchive(t, QAPrefix, nil)
}

func TestResolve_LocationLabelCollisionDropsWholeGroup(t *testing.T) {
	src := &Dataset{
		Locations: []Location{
			{ID: "l1", Label: "Shelf A"},
			{ID: "l2", Label: " Shelf A "},
			{ID: "l3", Label: "Shelf B"},
			{ID: "l4", Label: "   "},
		},
	}
	images, pfiles, qa := emptyArchives(t)

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(res.Data.Locations) != 1 {
		t.Fatalf("len(Locations) = %d, want 1", len(res.Data.Locations))
	}
	if res.Data.Locations[0].ID != "l3" {
		t.Errorf("surviving location = %s, want l3", res.Data.Locations[0].ID)
	}
}

func TestResolve_LocationDanglingParentNulled(t *testing.T) {
	src := &Dataset{
		Locations: []Location{
			{ID: "l1", Label: "Room", ParentID: strptr("gone")},
		},
	}
	images, pfiles, qa := emptyArchives(t)

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Data.Locations[0].ParentID != nil {
		t.Errorf("ParentID = %v, want nil", *res.Data.Locations[0].ParentID)
	}
}

func TestResolve_LocationParentCycleBroken(t *testing.T) {
	src := &Dataset{
		Locations: []Location{
			{ID: "a", Label: "A", ParentID: strptr("b")},
			{ID: "b", Label: "B", ParentID: strptr("a")},
			{ID: "c", Label: "C", ParentID: strptr("a")},
		},
	}
	images, pfiles, qa := emptyArchives(t)

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(res.Data.Locations) != 3 {
		t.Fatalf("len(Locations) = %d, want 3", len(res.Data.Locations))
	}
	if res.Stats.LocationCyclesBroken != 1 {
		t.Errorf("LocationCyclesBroken = %d, want 1", res.Stats.LocationCyclesBroken)
	}

	// Exactly one of the two cycle members lost its parent; every remaining
	// chain must terminate.
	byID := map[string]*Location{}
	for i := range res.Data.Locations {
		byID[res.Data.Locations[i].ID] = &res.Data.Locations[i]
	}
	nils := 0
	for _, id := range []string{"a", "b"} {
		if byID[id].ParentID == nil {
			nils++
		}
	}
	if nils != 1 {
		t.Errorf("cycle members with nil parent = %d, want 1", nils)
	}
	for _, l := range res.Data.Locations {
		seen := map[string]bool{}
		cur := l
		for cur.ParentID != nil {
			if seen[cur.ID] {
				t.Fatalf("cycle still reachable from %s", l.ID)
			}
			seen[cur.ID] = true
			cur = *byID[*cur.ParentID]
		}
	}
}

func TestResolve_ProductDedupKeepsFirst(t *testing.T) {
	src := &Dataset{
		Products: []Product{
			{ID: "p1", Brand: "Fluke", Model: "87V"},
			{ID: "p2", Brand: " Fluke ", Model: " 87V "},
			{ID: "p3", Brand: "Fluke", Model: "179"},
		},
	}
	images, pfiles, qa := emptyArchives(t)

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(res.Data.Products) != 2 {
		t.Fatalf("len(Products) = %d, want 2", len(res.Data.Products))
	}
	if res.Data.Products[0].ID != "p1" || res.Data.Products[1].ID != "p3" {
		t.Errorf("survivors = %s, %s, want p1, p3", res.Data.Products[0].ID, res.Data.Products[1].ID)
	}
}

func TestResolve_ProductImageRewrittenOrCleared(t *testing.T) {
	images := mustArchive(t, ImagesPrefix, map[string]string{
		"product_images/kept.png": "img",
	})
	pfiles := mustArchive(t, FilesPrefix, nil)
	qa := mustArchive(t, QAPrefix, nil)

	src := &Dataset{
		Products: []Product{
			{ID: "p1", Brand: "a", Model: "1", LocalImage: strptr("public/product_images/kept.png"), ImageLink: strptr("http://x/kept.png")},
			{ID: "p2", Brand: "a", Model: "2", LocalImage: strptr("/product_images/gone.png"), ImageLink: strptr("http://x/gone.png")},
		},
	}

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	p1 := res.Data.Products[0]
	if p1.LocalImage == nil || *p1.LocalImage != "/product_images/kept.png" {
		t.Errorf("p1.LocalImage = %v, want /product_images/kept.png", p1.LocalImage)
	}
	if _, ok := res.UsedImages["product_images/kept.png"]; !ok {
		t.Error("kept image not marked used")
	}

	p2 := res.Data.Products[1]
	if p2.LocalImage != nil || p2.ImageLink != nil {
		t.Errorf("p2 image fields = (%v, %v), want both nil", p2.LocalImage, p2.ImageLink)
	}
}

func TestResolve_CascadeThroughForeignKeys(t *testing.T) {
	images, pfiles, qa := emptyArchives(t)
	src := &Dataset{
		Locations: []Location{
			{ID: "live", Label: "Live"},
			{ID: "dupA", Label: "Dup"},
			{ID: "dupB", Label: "Dup"},
		},
		Products: []Product{
			{ID: "p1", Brand: "b", Model: "m"},
		},
		Stocks: []Stock{
			{ID: "s1", ProductID: "p1", LocationID: "live"},
			{ID: "s2", ProductID: "p1", LocationID: "dupA"}, // location dies
			{ID: "s3", ProductID: "ghost", LocationID: "live"},
		},
		Rentals: []Rental{
			{ID: "r1", StockID: "s1", ProductID: "p1", LocationID: "live"},
			{ID: "r2", StockID: "s2", ProductID: "p1", LocationID: "live"}, // stock died
		},
		Transfers: []Transfer{
			{ID: "t1", StockID: "s1", FromLocation: "live", ToLocation: "live"},
			{ID: "t2", StockID: "s1", FromLocation: "dupA", ToLocation: "live"},
		},
		Discarded: []Discarded{
			{ID: "d1", StockID: "s1", ProductID: "p1", LocationID: "live"},
			{ID: "d2", StockID: "s3", ProductID: "p1", LocationID: "live"},
		},
		Iams: []IamsMapping{
			{StockID: "s1", IamsID: "IAMS-1"},
			{StockID: "s2", IamsID: "IAMS-2"},
		},
	}

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(res.Data.Stocks) != 1 || res.Data.Stocks[0].ID != "s1" {
		t.Errorf("Stocks = %v, want only s1", res.Data.Stocks)
	}
	if len(res.Data.Rentals) != 1 || res.Data.Rentals[0].ID != "r1" {
		t.Errorf("Rentals = %v, want only r1", res.Data.Rentals)
	}
	if len(res.Data.Transfers) != 1 || res.Data.Transfers[0].ID != "t1" {
		t.Errorf("Transfers = %v, want only t1", res.Data.Transfers)
	}
	if len(res.Data.Discarded) != 1 || res.Data.Discarded[0].ID != "d1" {
		t.Errorf("Discarded = %v, want only d1", res.Data.Discarded)
	}
	if len(res.Data.Iams) != 1 || res.Data.Iams[0].StockID != "s1" {
		t.Errorf("Iams = %v, want only s1", res.Data.Iams)
	}
}

func TestResolve_ProductFilesCandidatesAndSize(t *testing.T) {
	pfiles := mustArchive(t, FilesPrefix, map[string]string{
		"product_files/custom/doc.pdf": "12345",     // matched via path base
		"product_files/p1/sheet.pdf":   "1234567",   // matched via product id
		"product_files/pf2/img.png":    "123456789", // matched via row id
	})
	images := mustArchive(t, ImagesPrefix, nil)
	qa := mustArchive(t, QAPrefix, nil)

	src := &Dataset{
		Products: []Product{
			{ID: "p1", Brand: "b", Model: "m"},
			{ID: "p2", Brand: "b", Model: "m2"},
		},
		ProductFiles: []ProductFile{
			{
				ID:        "pf1",
				ProductID: "p1",
				Path:      strptr("product_files/custom"),
				Files: map[string][]string{
					"pdf": {"doc.pdf", "sheet.pdf", "lost.pdf"},
				},
			},
			{
				ID:        "pf2",
				ProductID: "p2",
				Files: map[string][]string{
					"image": {"img.png"},
				},
			},
			{
				ID:        "pf3",
				ProductID: "p1",
				Files: map[string][]string{
					"pdf": {"nowhere.pdf"},
				},
			},
			{
				ID:        "pf4",
				ProductID: "deadproduct",
				Files: map[string][]string{
					"pdf": {"doc.pdf"},
				},
			},
		},
	}

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(res.Data.ProductFiles) != 2 {
		t.Fatalf("len(ProductFiles) = %d, want 2", len(res.Data.ProductFiles))
	}

	pf1 := res.Data.ProductFiles[0]
	if got := pf1.Files["pdf"]; len(got) != 2 || got[0] != "doc.pdf" || got[1] != "sheet.pdf" {
		t.Errorf("pf1 pdf files = %v, want [doc.pdf sheet.pdf]", got)
	}
	if pf1.SizeBytes == nil || *pf1.SizeBytes != 12 {
		t.Errorf("pf1.SizeBytes = %v, want 12", pf1.SizeBytes)
	}

	pf2 := res.Data.ProductFiles[1]
	if pf2.SizeBytes == nil || *pf2.SizeBytes != 9 {
		t.Errorf("pf2.SizeBytes = %v, want 9", pf2.SizeBytes)
	}

	if res.Stats.ProductFilesKept != 2 || res.Stats.ProductFilesDropped != 2 {
		t.Errorf("stats = kept %d dropped %d, want kept 2 dropped 2",
			res.Stats.ProductFilesKept, res.Stats.ProductFilesDropped)
	}

	for _, rel := range []string{
		"product_files/custom/doc.pdf",
		"product_files/p1/sheet.pdf",
		"product_files/pf2/img.png",
	} {
		if _, ok := res.UsedFiles[rel]; !ok {
			t.Errorf("UsedFiles missing %s", rel)
		}
	}
}

func TestResolve_UsersPasswordRules(t *testing.T) {
	images, pfiles, qa := emptyArchives(t)

	t.Run("hash kept verbatim and hash-shaped password accepted", func(t *testing.T) {
		src := &Dataset{
			Users: []User{
				{ID: "u1", Username: "alice", PasswordHash: strptr(testBcryptHash)},
				{ID: "u2", Username: "bob", Password: testBcryptHash},
				{ID: "u3", Username: "carol", Password: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
			},
		}
		res, err := Resolve(src, images, pfiles, qa)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		for i, u := range res.Data.Users {
			if u.PasswordHash == nil || *u.PasswordHash == "" {
				t.Errorf("user %d PasswordHash missing", i)
			}
			if u.Password != "" {
				t.Errorf("user %d Password = %q, want cleared", i, u.Password)
			}
		}
	})

	t.Run("plaintext password aborts import", func(t *testing.T) {
		src := &Dataset{
			Users: []User{
				{ID: "u1", Username: "alice", Password: "hunter2"},
				{ID: "u2", Username: "bob", PasswordHash: strptr(testBcryptHash)},
			},
		}
		_, err := Resolve(src, images, pfiles, qa)
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("Resolve() error = %v, want ValidationError", err)
		}
		if valErr.Total != 1 {
			t.Errorf("ValidationError.Total = %d, want 1", valErr.Total)
		}
		if len(valErr.Samples) != 1 || valErr.Samples[0] != "alice" {
			t.Errorf("ValidationError.Samples = %v, want [alice]", valErr.Samples)
		}
	})

	t.Run("samples capped at ten", func(t *testing.T) {
		var users []User
		for i := 0; i < 15; i++ {
			users = append(users, User{
				ID:       "u" + strings.Repeat("x", i+1),
				Username: "user" + strings.Repeat("x", i+1),
				Password: "plain",
			})
		}
		_, err := Resolve(&Dataset{Users: users}, images, pfiles, qa)
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("Resolve() error = %v, want ValidationError", err)
		}
		if valErr.Total != 15 {
			t.Errorf("Total = %d, want 15", valErr.Total)
		}
		if len(valErr.Samples) != 10 {
			t.Errorf("len(Samples) = %d, want 10", len(valErr.Samples))
		}
		if !strings.Contains(valErr.Error(), ", ...") {
			t.Errorf("Error() = %q, want truncation marker", valErr.Error())
		}
	})

	t.Run("case insensitive username dedup keeps first", func(t *testing.T) {
		src := &Dataset{
			Users: []User{
				{ID: "u1", Username: "Alice", PasswordHash: strptr(testBcryptHash)},
				{ID: "u2", Username: "alice", PasswordHash: strptr(testBcryptHash)},
				{ID: "u3", Username: "", PasswordHash: strptr(testBcryptHash)},
			},
		}
		res, err := Resolve(src, images, pfiles, qa)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(res.Data.Users) != 1 || res.Data.Users[0].ID != "u1" {
			t.Errorf("Users = %v, want only u1", res.Data.Users)
		}
	})

	t.Run("missing id gets generated", func(t *testing.T) {
		src := &Dataset{
			Users: []User{
				{Username: "dave", PasswordHash: strptr(testBcryptHash)},
			},
		}
		res, err := Resolve(src, images, pfiles, qa)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if res.Data.Users[0].ID == "" {
			t.Error("user ID not generated")
		}
	})
}

func TestResolve_QAItems(t *testing.T) {
	qa := mustArchive(t, QAPrefix, map[string]string{
		"qa/img/present.png": "x",
	})
	images := mustArchive(t, ImagesPrefix, nil)
	pfiles := mustArchive(t, FilesPrefix, nil)

	src := &Dataset{
		QAItems: []QAItem{
			{
				Title:     "  How to calibrate  ",
				Tags:      []string{" hw ", "", "cal"},
				ContentMd: "![a](/qa/img/present.png) and ![b](/qa/img/absent.png)",
			},
		},
	}

	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	q := res.Data.QAItems[0]
	if !strings.HasPrefix(q.ID, "qa_") {
		t.Errorf("generated ID = %q, want qa_ prefix", q.ID)
	}
	if q.Title != "How to calibrate" {
		t.Errorf("Title = %q, want trimmed", q.Title)
	}
	if len(q.Tags) != 2 || q.Tags[0] != "hw" || q.Tags[1] != "cal" {
		t.Errorf("Tags = %v, want [hw cal]", q.Tags)
	}
	if q.CreatedAt.IsZero() || q.UpdatedAt.IsZero() {
		t.Error("timestamps not defaulted")
	}

	if _, ok := res.UsedQA["qa/img/present.png"]; !ok {
		t.Error("present ref not marked used")
	}
	if _, ok := res.UsedQA["qa/img/absent.png"]; ok {
		t.Error("absent ref marked used")
	}
}

func TestResolve_DevicesPassThrough(t *testing.T) {
	images, pfiles, qa := emptyArchives(t)
	src := &Dataset{
		Devices: []Device{{ID: "d1", Name: "scanner", CreatedAt: time.Now()}},
	}
	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Data.Devices) != 1 || res.Data.Devices[0].ID != "d1" {
		t.Errorf("Devices = %v, want d1 unchanged", res.Data.Devices)
	}
}

func TestResolve_CategoryItemsFiltered(t *testing.T) {
	images, pfiles, qa := emptyArchives(t)
	src := &Dataset{
		Products: []Product{{ID: "p1", Brand: "b", Model: "m"}},
		ProductCategories: []ProductCategory{
			{ID: "c1", Name: "Meters"},
		},
		ProductCategoryItems: []ProductCategoryItem{
			{CategoryID: "c1", ProductID: "p1"},
			{CategoryID: "c1", ProductID: "dead"},
			{CategoryID: "nocat", ProductID: "p1"},
		},
	}
	res, err := Resolve(src, images, pfiles, qa)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(res.Data.ProductCategoryItems) != 1 {
		t.Fatalf("len(ProductCategoryItems) = %d, want 1", len(res.Data.ProductCategoryItems))
	}
}
