package store

// Schema DDL for every managed table, applied in dependency order at
// startup. Location parent links are validated by the resolver rather than a
// self-referencing foreign key, so a whole survivor set can be inserted in
// input order.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id        text PRIMARY KEY,
		label     text NOT NULL,
		parent_id text
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id                  text PRIMARY KEY,
		name                text NOT NULL DEFAULT '',
		brand               text NOT NULL DEFAULT '',
		model               text NOT NULL DEFAULT '',
		specifications      text,
		price               double precision,
		image_link          text,
		local_image         text,
		is_property_managed boolean NOT NULL DEFAULT false,
		created_at          timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stocks (
		id             text PRIMARY KEY,
		product_id     text NOT NULL REFERENCES products(id),
		location_id    text NOT NULL REFERENCES locations(id),
		current_status text NOT NULL DEFAULT '',
		discarded      boolean NOT NULL DEFAULT false,
		created_at     timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS rentals (
		id          text PRIMARY KEY,
		stock_id    text NOT NULL REFERENCES stocks(id),
		product_id  text NOT NULL REFERENCES products(id),
		location_id text NOT NULL REFERENCES locations(id),
		borrower    text NOT NULL DEFAULT '',
		renter      text NOT NULL DEFAULT '',
		loan_type   text NOT NULL DEFAULT '',
		loan_date   timestamptz NOT NULL DEFAULT now(),
		due_date    timestamptz NOT NULL DEFAULT now(),
		return_date timestamptz
	)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id            text PRIMARY KEY,
		stock_id      text NOT NULL REFERENCES stocks(id),
		from_location text NOT NULL REFERENCES locations(id),
		to_location   text NOT NULL REFERENCES locations(id),
		created_at    timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS discarded (
		id               text PRIMARY KEY,
		stock_id         text NOT NULL REFERENCES stocks(id),
		product_id       text NOT NULL REFERENCES products(id),
		location_id      text NOT NULL REFERENCES locations(id),
		discard_reason   text NOT NULL DEFAULT '',
		discard_operator text NOT NULL DEFAULT '',
		discard_date     timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS iams_mappings (
		stock_id text PRIMARY KEY REFERENCES stocks(id),
		iams_id  text NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id         text PRIMARY KEY,
		name       text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            text PRIMARY KEY,
		username      text NOT NULL,
		email         text,
		password_hash text NOT NULL,
		created_at    timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx
		ON users (lower(username))`,
	`CREATE TABLE IF NOT EXISTS product_categories (
		id   text PRIMARY KEY,
		name text NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS product_category_items (
		category_id text NOT NULL REFERENCES product_categories(id),
		product_id  text NOT NULL REFERENCES products(id),
		PRIMARY KEY (category_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS product_files (
		id          text PRIMARY KEY,
		product_id  text NOT NULL REFERENCES products(id),
		path        text,
		part_number text,
		description text,
		files       jsonb NOT NULL DEFAULT '{}',
		size_bytes  bigint,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS qa_items (
		id         text PRIMARY KEY,
		title      text NOT NULL DEFAULT '',
		tags       text[] NOT NULL DEFAULT '{}',
		sort_order integer NOT NULL DEFAULT 0,
		content_md text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
}

// deleteOrder empties every managed table child-first so foreign keys never
// block the wipe.
var deleteOrder = []string{
	"rentals",
	"transfers",
	"discarded",
	"iams_mappings",
	"product_category_items",
	"product_files",
	"stocks",
	"product_categories",
	"products",
	"locations",
	"devices",
	"qa_items",
	"users",
}
