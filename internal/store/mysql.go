// Package store holds the contact store implementations: MySQL for production and an in-memory
// store for tests and database-less setups.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"gitlab.com/dirk.krummacker/contact-directory/internal/config"
	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
)

// columns lists the contacts columns in table order.
const columns = `id, firstname, lastname, email, phone, company, job_title, address, city, state,
	zip_code, country, notes, photo_file_name, photo_path, created_at, updated_at`

// likeEscaper escapes the LIKE wildcards of a search term, using MySQL's default escape character.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// OpenMySQL opens a connection pool to the configured MySQL database. Found rows rather than
// changed rows are reported for updates, so an update that changes nothing still counts as a match.
func OpenMySQL(cfg config.DatabaseConfig) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.ClientFoundRows = true

	sqlDB, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)
	return sqlDB, nil
}

// MySQL is the contact store backed by the contacts table.
type MySQL struct {
	db *sqlx.DB

	// Prepared statements offer a significant speed increase if executed many times.
	insert           *sqlx.NamedStmt
	update           *sqlx.NamedStmt
	selectWhereId    *sqlx.Stmt
	selectWhereEmail *sqlx.Stmt
	deleteWhereId    *sqlx.Stmt
}

// NewMySQL wraps the database with sqlx and prepares all statements. The database can be a real
// database for production use or a mock database within unit tests.
func NewMySQL(sqlDB *sql.DB) (*MySQL, error) {
	var err error
	s := &MySQL{db: sqlx.NewDb(sqlDB, "mysql")}

	s.insert, err = s.db.PrepareNamed(`
		INSERT INTO contacts (firstname, lastname, email, phone, company, job_title, address, city,
			state, zip_code, country, notes, photo_file_name, photo_path, created_at, updated_at)
		VALUES (:firstname, :lastname, :email, :phone, :company, :job_title, :address, :city,
			:state, :zip_code, :country, :notes, :photo_file_name, :photo_path, :created_at, :updated_at)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	s.update, err = s.db.PrepareNamed(`
		UPDATE contacts SET firstname=:firstname, lastname=:lastname, email=:email, phone=:phone,
			company=:company, job_title=:job_title, address=:address, city=:city, state=:state,
			zip_code=:zip_code, country=:country, notes=:notes, photo_file_name=:photo_file_name,
			photo_path=:photo_path, updated_at=:updated_at
		WHERE id=:id
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare update: %w", err)
	}
	s.selectWhereId, err = s.db.Preparex(`SELECT ` + columns + ` FROM contacts WHERE id=?`)
	if err != nil {
		return nil, fmt.Errorf("prepare select by id: %w", err)
	}
	s.selectWhereEmail, err = s.db.Preparex(`SELECT ` + columns + ` FROM contacts WHERE email=?
		ORDER BY firstname, lastname, id LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("prepare select by email: %w", err)
	}
	s.deleteWhereId, err = s.db.Preparex(`DELETE FROM contacts WHERE id=?`)
	if err != nil {
		return nil, fmt.Errorf("prepare delete: %w", err)
	}
	return s, nil
}

// Close releases the prepared statements. The database itself stays open.
func (s *MySQL) Close() error {
	for _, closer := range []interface{ Close() error }{
		s.insert, s.update, s.selectWhereId, s.selectWhereEmail, s.deleteWhereId,
	} {
		if err := closer.Close(); err != nil {
			return &model.StoreError{Op: "close", Err: err}
		}
	}
	return nil
}

// Get returns the contact with the given id.
func (s *MySQL) Get(ctx context.Context, id int64) (*model.Contact, error) {
	var contacts []model.Contact
	if err := s.selectWhereId.SelectContext(ctx, &contacts, id); err != nil {
		return nil, &model.StoreError{Op: "get", Err: err}
	}
	if len(contacts) == 0 {
		return nil, model.NotFound(id)
	}
	return &contacts[0], nil
}

// FindByEmail returns the first contact, in name order, with the given email address.
func (s *MySQL) FindByEmail(ctx context.Context, email string) (*model.Contact, error) {
	var contacts []model.Contact
	if err := s.selectWhereEmail.SelectContext(ctx, &contacts, email); err != nil {
		return nil, &model.StoreError{Op: "find by email", Err: err}
	}
	if len(contacts) == 0 {
		return nil, model.ErrNotFound
	}
	return &contacts[0], nil
}

// Insert creates the contact and returns it with the id assigned by the database.
func (s *MySQL) Insert(ctx context.Context, c model.Contact) (*model.Contact, error) {
	result, err := s.insert.ExecContext(ctx, &c)
	if err != nil {
		return nil, &model.StoreError{Op: "insert", Err: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, &model.StoreError{Op: "insert", Err: err}
	}
	c.Id = id
	return &c, nil
}

// Update writes all columns except id and created_at and returns the stored contact.
func (s *MySQL) Update(ctx context.Context, id int64, c model.Contact) (*model.Contact, error) {
	c.Id = id
	result, err := s.update.ExecContext(ctx, &c)
	if err != nil {
		return nil, &model.StoreError{Op: "update", Err: err}
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, &model.StoreError{Op: "update", Err: err}
	}
	if rowsAffected == 0 {
		return nil, model.NotFound(id)
	}

	// Return the full contact as stored after the update.
	return s.Get(ctx, id)
}

// Delete removes the contact with the given id.
func (s *MySQL) Delete(ctx context.Context, id int64) error {
	result, err := s.deleteWhereId.ExecContext(ctx, id)
	if err != nil {
		return &model.StoreError{Op: "delete", Err: err}
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &model.StoreError{Op: "delete", Err: err}
	}
	if rowsAffected == 0 {
		return model.NotFound(id)
	}
	return nil
}

// ListOrdered returns one page of all contacts ordered by first name, last name and id.
func (s *MySQL) ListOrdered(ctx context.Context, page, size int) (model.Page[model.Contact], error) {
	return s.page(ctx, "list", nil, page, size)
}

// SearchSubstring returns one page of the contacts whose full name, email, phone or company
// contain term, ignoring case.
func (s *MySQL) SearchSubstring(ctx context.Context, term string, page, size int) (model.Page[model.Contact], error) {
	return s.page(ctx, "search", searchCondition(term), page, size)
}

// searchCondition matches term as a literal substring of the searchable columns.
func searchCondition(term string) sq.Sqlizer {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	return sq.Or{
		sq.Like{"LOWER(CONCAT(firstname, ' ', lastname))": pattern},
		sq.Like{"LOWER(email)": pattern},
		sq.Like{"LOWER(phone)": pattern},
		sq.Like{"LOWER(company)": pattern},
	}
}

// page counts the contacts matching where (all if nil) and selects the requested page of them.
// The rows query is skipped when the page lies past the end.
func (s *MySQL) page(ctx context.Context, op string, where sq.Sqlizer, page, size int) (model.Page[model.Contact], error) {
	count := sq.Select("COUNT(*)").From("contacts")
	rows := sq.Select(columns).From("contacts").
		OrderBy("firstname ASC", "lastname ASC", "id ASC").
		Limit(uint64(size)).
		Offset(uint64(page) * uint64(size))
	if where != nil {
		count = count.Where(where)
		rows = rows.Where(where)
	}

	query, args, err := count.ToSql()
	if err != nil {
		return model.Page[model.Contact]{}, &model.StoreError{Op: op, Err: err}
	}
	var total int
	if err := s.db.GetContext(ctx, &total, query, args...); err != nil {
		return model.Page[model.Contact]{}, &model.StoreError{Op: op, Err: err}
	}
	if offset, ok := model.Offset(page, size); !ok || total <= offset {
		return model.NewPage[model.Contact](nil, total, page, size), nil
	}

	query, args, err = rows.ToSql()
	if err != nil {
		return model.Page[model.Contact]{}, &model.StoreError{Op: op, Err: err}
	}
	var contacts []model.Contact
	if err := s.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		return model.Page[model.Contact]{}, &model.StoreError{Op: op, Err: err}
	}
	return model.NewPage(contacts, total, page, size), nil
}
