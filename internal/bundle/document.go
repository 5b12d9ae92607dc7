package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Document is the metadata half of an export bundle: a meta header plus one
// typed record list per managed table.
type Document struct {
	Meta *Meta   `json:"meta,omitempty"`
	Data Dataset `json:"data"`
}

// Meta describes when and in which format a bundle was produced.
type Meta struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Dataset holds one record list per table. Inside the engine the same type
// carries both the raw decoded bundle and the resolved survivor set.
type Dataset struct {
	Locations            []Location            `json:"locations"`
	Products             []Product             `json:"products"`
	Stocks               []Stock               `json:"stocks"`
	Rentals              []Rental              `json:"rentals"`
	Transfers            []Transfer            `json:"transfers"`
	Discarded            []Discarded           `json:"discarded"`
	Iams                 []IamsMapping         `json:"iams"`
	Devices              []Device              `json:"devices"`
	Users                []User                `json:"users"`
	ProductCategories    []ProductCategory     `json:"productCategories"`
	ProductCategoryItems []ProductCategoryItem `json:"productCategoryItems"`
	ProductFiles         []ProductFile         `json:"productFiles"`
	QAItems              []QAItem              `json:"qaItems"`
}

// Location is a node in the storage location tree.
type Location struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	ParentID *string `json:"parentId"`
}

// Product is a catalog entry, unique on (brand, model) after resolution.
type Product struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Brand             string    `json:"brand"`
	Model             string    `json:"model"`
	Specifications    *string   `json:"specifications"`
	Price             *float64  `json:"price"`
	ImageLink         *string   `json:"imageLink"`
	LocalImage        *string   `json:"localImage"`
	IsPropertyManaged bool      `json:"isPropertyManaged"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Stock is one physical unit of a product at a location.
type Stock struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"productId"`
	LocationID    string    `json:"locationId"`
	CurrentStatus string    `json:"currentStatus"`
	Discarded     bool      `json:"discarded"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Rental records a loan of one stock unit.
type Rental struct {
	ID         string     `json:"id"`
	StockID    string     `json:"stockId"`
	ProductID  string     `json:"productId"`
	LocationID string     `json:"locationId"`
	Borrower   string     `json:"borrower"`
	Renter     string     `json:"renter"`
	LoanType   string     `json:"loanType"`
	LoanDate   time.Time  `json:"loanDate"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnDate *time.Time `json:"returnDate"`
}

// Transfer records a stock unit moving between two locations.
type Transfer struct {
	ID           string    `json:"id"`
	StockID      string    `json:"stockId"`
	FromLocation string    `json:"fromLocation"`
	ToLocation   string    `json:"toLocation"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Discarded records the disposal of a stock unit.
type Discarded struct {
	ID              string    `json:"id"`
	StockID         string    `json:"stockId"`
	ProductID       string    `json:"productId"`
	LocationID      string    `json:"locationId"`
	DiscardReason   string    `json:"discardReason"`
	DiscardOperator string    `json:"discardOperator"`
	DiscardDate     time.Time `json:"discardDate"`
}

// IamsMapping links a stock unit to its asset-management id.
type IamsMapping struct {
	StockID string `json:"stockId"`
	IamsID  string `json:"iamsId"`
}

// Device is a registered client device, carried through imports as-is.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is an account row. Password is accepted on input only and never
// serialized back out; PasswordHash is what the store persists.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        *string   `json:"email"`
	PasswordHash *string   `json:"passwordHash"`
	Password     string    `json:"password,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProductCategory groups products for browsing.
type ProductCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProductCategoryItem is the product/category join row.
type ProductCategoryItem struct {
	CategoryID string `json:"categoryId"`
	ProductID  string `json:"productId"`
}

// ProductFile groups attachment files for one product, keyed by category
// (image, pdf, video, ...). SizeBytes is recomputed during resolution.
type ProductFile struct {
	ID          string              `json:"id"`
	ProductID   string              `json:"productId"`
	Path        *string             `json:"path"`
	PartNumber  *string             `json:"partNumber"`
	Description *string             `json:"description"`
	Files       map[string][]string `json:"files"`
	SizeBytes   *int64              `json:"sizeBytes"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// QAItem is a rich-text knowledge entry whose markdown body may embed
// qa/-namespace asset paths.
type QAItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	Order     int       `json:"order"`
	ContentMd string    `json:"contentMd"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DecodeDocument parses a metadata document into typed record lists. A
// missing table field decodes to an empty list; a field that is present but
// has the wrong shape is a DecodeError naming the field, as is a top level
// that is not a JSON object carrying a data object.
func DecodeDocument(data []byte) (*Document, error) {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{Reason: "not valid JSON"}
	}
	if len(probe.Data) == 0 || bytes.Equal(probe.Data, []byte("null")) {
		return nil, &DecodeError{Field: "data", Reason: "missing data object"}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &DecodeError{
				Field:  typeErr.Field,
				Reason: "expected " + typeErr.Type.String() + ", got " + typeErr.Value,
			}
		}
		return nil, &DecodeError{Reason: err.Error()}
	}

	doc.Data.init()
	return &doc, nil
}

// init replaces nil record lists with empty ones so downstream code never
// branches on missing tables.
func (d *Dataset) init() {
	if d.Locations == nil {
		d.Locations = []Location{}
	}
	if d.Products == nil {
		d.Products = []Product{}
	}
	if d.Stocks == nil {
		d.Stocks = []Stock{}
	}
	if d.Rentals == nil {
		d.Rentals = []Rental{}
	}
	if d.Transfers == nil {
		d.Transfers = []Transfer{}
	}
	if d.Discarded == nil {
		d.Discarded = []Discarded{}
	}
	if d.Iams == nil {
		d.Iams = []IamsMapping{}
	}
	if d.Devices == nil {
		d.Devices = []Device{}
	}
	if d.Users == nil {
		d.Users = []User{}
	}
	if d.ProductCategories == nil {
		d.ProductCategories = []ProductCategory{}
	}
	if d.ProductCategoryItems == nil {
		d.ProductCategoryItems = []ProductCategoryItem{}
	}
	if d.ProductFiles == nil {
		d.ProductFiles = []ProductFile{}
	}
	if d.QAItems == nil {
		d.QAItems = []QAItem{}
	}
}

// Counts returns per-table row counts keyed by the document field names.
func (d *Dataset) Counts() map[string]int {
	return map[string]int{
		"locations":            len(d.Locations),
		"products":             len(d.Products),
		"stocks":               len(d.Stocks),
		"rentals":              len(d.Rentals),
		"transfers":            len(d.Transfers),
		"discarded":            len(d.Discarded),
		"iams":                 len(d.Iams),
		"devices":              len(d.Devices),
		"users":                len(d.Users),
		"productCategories":    len(d.ProductCategories),
		"productCategoryItems": len(d.ProductCategoryItems),
		"productFiles":         len(d.ProductFiles),
		"qaItems":              len(d.QAItems),
	}
}
