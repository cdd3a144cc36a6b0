package model

// Schema contains the SQL schema for the database
const Schema = `
CREATE TABLE IF NOT EXISTS packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    repository_url TEXT NOT NULL,
    repository_key TEXT NOT NULL,
    subdir TEXT NOT NULL DEFAULT '',
    account_id INTEGER,
    total_downloads_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS package_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    package_id INTEGER NOT NULL,
    version TEXT NOT NULL,
    readme_content TEXT,
    license TEXT,
    downloads_count INTEGER NOT NULL DEFAULT 0,
    rev TEXT,
    total_files INTEGER,
    total_size INTEGER,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (package_id) REFERENCES packages(id) ON DELETE CASCADE,
    UNIQUE(package_id, rev)
);

CREATE INDEX IF NOT EXISTS idx_packages_repository_key ON packages(repository_key, subdir);
CREATE INDEX IF NOT EXISTS idx_package_versions_package_id ON package_versions(package_id);

CREATE VIRTUAL TABLE IF NOT EXISTS packages_fts USING fts4(name, description, tokenize=porter);

CREATE TRIGGER IF NOT EXISTS packages_fts_insert AFTER INSERT ON packages BEGIN
    INSERT INTO packages_fts(docid, name, description) VALUES (new.id, new.name, new.description);
END;

CREATE TRIGGER IF NOT EXISTS packages_fts_update AFTER UPDATE OF name, description ON packages BEGIN
    DELETE FROM packages_fts WHERE docid = old.id;
    INSERT INTO packages_fts(docid, name, description) VALUES (new.id, new.name, new.description);
END;

CREATE TRIGGER IF NOT EXISTS packages_fts_delete AFTER DELETE ON packages BEGIN
    DELETE FROM packages_fts WHERE docid = old.id;
END;
`
