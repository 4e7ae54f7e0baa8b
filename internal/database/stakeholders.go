package database

import (
	"context"
	"database/sql"
	"strings"
)

const stakeholderColumns = `s.id, s.name, s.type, s.countries, s.url, s.twitter, s.comments,
	s.is_public, s.created_at, s.modified_at`

// CreateStakeholder inserts a stakeholder and links it to policies.
func (db *DB) CreateStakeholder(ctx context.Context, s *Stakeholder, policyIDs []int64) error {
	return db.WithTx(ctx, func(tx *DB) error {
		now := tx.timestamp()
		id, err := tx.insert(ctx,
			`INSERT INTO stakeholders (name, type, countries, url, twitter, comments, is_public,
			created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.Name, s.Type, marshalList(s.Countries), s.URL, s.Twitter, s.Comments, s.IsPublic,
			now, now,
		)
		if err != nil {
			return err
		}
		if err := tx.linkStakeholderPolicies(ctx, id, policyIDs); err != nil {
			return err
		}
		s.ID = id
		s.CreatedAt = now
		s.ModifiedAt = now
		return nil
	})
}

// UpdateStakeholder saves the stakeholder's fields and replaces its policy
// links.
func (db *DB) UpdateStakeholder(ctx context.Context, s *Stakeholder, policyIDs []int64) error {
	return db.WithTx(ctx, func(tx *DB) error {
		now := tx.timestamp()
		if _, err := tx.exec(ctx,
			`UPDATE stakeholders SET name = ?, type = ?, countries = ?, url = ?, twitter = ?,
			comments = ?, is_public = ?, modified_at = ? WHERE id = ?`,
			s.Name, s.Type, marshalList(s.Countries), s.URL, s.Twitter, s.Comments, s.IsPublic,
			now, s.ID,
		); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, "DELETE FROM stakeholder_policies WHERE stakeholder_id = ?", s.ID); err != nil {
			return err
		}
		if err := tx.linkStakeholderPolicies(ctx, s.ID, policyIDs); err != nil {
			return err
		}
		s.ModifiedAt = now
		return nil
	})
}

func (db *DB) linkStakeholderPolicies(ctx context.Context, stakeholderID int64, policyIDs []int64) error {
	for _, pid := range policyIDs {
		if _, err := db.exec(ctx,
			`INSERT INTO stakeholder_policies (stakeholder_id, policy_id) VALUES (?, ?)
			ON CONFLICT (stakeholder_id, policy_id) DO NOTHING`, stakeholderID, pid,
		); err != nil {
			return err
		}
	}
	return nil
}

// DeleteStakeholder removes a stakeholder with its contacts and links. It
// reports whether a row was removed.
func (db *DB) DeleteStakeholder(ctx context.Context, id int64) (bool, error) {
	res, err := db.exec(ctx, "DELETE FROM stakeholders WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InterestedStakeholders returns the stakeholders linked to a policy,
// ordered by name.
func (db *DB) InterestedStakeholders(ctx context.Context, policyID int64) ([]Stakeholder, error) {
	rows, err := db.query(ctx,
		`SELECT `+stakeholderColumns+`
		FROM stakeholders s JOIN stakeholder_policies sp ON sp.stakeholder_id = s.id
		WHERE sp.policy_id = ? ORDER BY s.name, s.id`, policyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStakeholders(rows)
}

// StakeholderPolicyIDs returns the ids of the policies a stakeholder is
// interested in.
func (db *DB) StakeholderPolicyIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := db.query(ctx,
		"SELECT policy_id FROM stakeholder_policies WHERE stakeholder_id = ? ORDER BY policy_id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		ids = append(ids, pid)
	}
	return ids, rows.Err()
}

// GetStakeholder returns a stakeholder by ID, or nil if it does not exist.
func (db *DB) GetStakeholder(ctx context.Context, id int64) (*Stakeholder, error) {
	rows, err := db.query(ctx, "SELECT "+stakeholderColumns+" FROM stakeholders s WHERE s.id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanStakeholders(rows)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// ListStakeholders returns all stakeholders ordered by name.
func (db *DB) ListStakeholders(ctx context.Context) ([]Stakeholder, error) {
	rows, err := db.query(ctx, "SELECT "+stakeholderColumns+" FROM stakeholders s ORDER BY s.name, s.id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStakeholders(rows)
}

// StakeholderPolicyNames maps stakeholder id to the names of the policies
// it is interested in, sorted by name.
func (db *DB) StakeholderPolicyNames(ctx context.Context) (map[int64][]string, error) {
	rows, err := db.query(ctx,
		`SELECT sp.stakeholder_id, p.name FROM stakeholder_policies sp
		JOIN policies p ON p.id = sp.policy_id ORDER BY sp.stakeholder_id, p.name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = append(names[id], name)
	}
	return names, rows.Err()
}

// CreateContact inserts a contact for a stakeholder.
func (db *DB) CreateContact(ctx context.Context, c *Contact) error {
	now := db.timestamp()
	id, err := db.insert(ctx,
		`INSERT INTO contacts (stakeholder_id, name, role, email, phone, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.StakeholderID, c.Name, c.Role, strings.TrimSpace(c.Email), c.Phone, now, now,
	)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// GetContact returns a contact by ID, or nil if it does not exist.
func (db *DB) GetContact(ctx context.Context, id int64) (*Contact, error) {
	rows, err := db.query(ctx,
		`SELECT c.id, c.stakeholder_id, s.name, c.name, c.role, c.email, c.phone
		FROM contacts c JOIN stakeholders s ON s.id = c.stakeholder_id
		WHERE c.id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanContacts(rows)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// UpdateContact saves a contact's details. The stakeholder never changes.
func (db *DB) UpdateContact(ctx context.Context, c *Contact) error {
	_, err := db.exec(ctx,
		`UPDATE contacts SET name = ?, role = ?, email = ?, phone = ?, modified_at = ?
		WHERE id = ?`,
		c.Name, c.Role, strings.TrimSpace(c.Email), c.Phone, db.timestamp(), c.ID,
	)
	return err
}

// DeleteContact removes a contact. It reports whether a row was removed.
func (db *DB) DeleteContact(ctx context.Context, id int64) (bool, error) {
	res, err := db.exec(ctx, "DELETE FROM contacts WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// StakeholderContacts returns a stakeholder's contacts ordered by name.
func (db *DB) StakeholderContacts(ctx context.Context, stakeholderID int64) ([]Contact, error) {
	rows, err := db.query(ctx,
		`SELECT c.id, c.stakeholder_id, s.name, c.name, c.role, c.email, c.phone
		FROM contacts c JOIN stakeholders s ON s.id = c.stakeholder_id
		WHERE c.stakeholder_id = ? ORDER BY c.name, c.id`, stakeholderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContacts(rows)
}

// ListContacts returns every contact with its stakeholder name, ordered by
// stakeholder then contact name.
func (db *DB) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := db.query(ctx,
		`SELECT c.id, c.stakeholder_id, s.name, c.name, c.role, c.email, c.phone
		FROM contacts c JOIN stakeholders s ON s.id = c.stakeholder_id
		ORDER BY s.name, c.name, c.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContacts(rows)
}

// ContactsWithEmailForReview returns the contacts of the review's
// stakeholders that have a non-empty email address.
func (db *DB) ContactsWithEmailForReview(ctx context.Context, reviewID int64) ([]Contact, error) {
	rows, err := db.query(ctx,
		`SELECT c.id, c.stakeholder_id, s.name, c.name, c.role, c.email, c.phone
		FROM contacts c
		JOIN stakeholders s ON s.id = c.stakeholder_id
		JOIN review_stakeholders rs ON rs.stakeholder_id = c.stakeholder_id
		WHERE rs.review_id = ? AND c.email <> ''
		ORDER BY c.id`, reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContacts(rows)
}

func scanStakeholders(rows *sql.Rows) ([]Stakeholder, error) {
	var items []Stakeholder
	for rows.Next() {
		var s Stakeholder
		var countries string
		if err := rows.Scan(&s.ID, &s.Name, &s.Type, &countries, &s.URL, &s.Twitter, &s.Comments,
			&s.IsPublic, &s.CreatedAt, &s.ModifiedAt); err != nil {
			return nil, err
		}
		s.Countries = unmarshalList(countries)
		items = append(items, s)
	}
	return items, rows.Err()
}

func scanContacts(rows *sql.Rows) ([]Contact, error) {
	var items []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.StakeholderID, &c.StakeholderName, &c.Name, &c.Role,
			&c.Email, &c.Phone); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
