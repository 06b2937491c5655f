package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nimbusid/authapi/internal/auth"
)

type profiles struct{ s *Store }

type profileRow struct {
	UserID      string    `db:"user_id"`
	FirstName   string    `db:"first_name"`
	LastName    string    `db:"last_name"`
	Phone       string    `db:"phone"`
	CountryCode string    `db:"country_code"`
	DOB         string    `db:"dob"`
	Gender      string    `db:"gender"`
	Avatar      string    `db:"avatar"`
	Address     string    `db:"address"`
	City        string    `db:"city"`
	State       string    `db:"state"`
	Country     string    `db:"country"`
	Zip         string    `db:"zip"`
	Timezone    string    `db:"timezone"`
	Language    string    `db:"language"`
	DeviceInfo  []byte    `db:"device_info"`
	Metadata    []byte    `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (p profiles) Create(ctx context.Context, pr *auth.Profile) error {
	device, err := encodeJSON(pr.DeviceInfo)
	if err != nil {
		return err
	}
	meta, err := encodeJSON(pr.Metadata)
	if err != nil {
		return err
	}
	if pr.Language == "" {
		pr.Language = "en"
	}
	now := p.s.now().UTC()
	pr.CreatedAt, pr.UpdatedAt = now, now
	_, err = p.s.ext.ExecContext(ctx, `
		insert into user_profiles (
			user_id, first_name, last_name, phone, country_code, dob, gender, avatar,
			address, city, state, country, zip, timezone, language,
			device_info, metadata, created_at, updated_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	`,
		pr.UserID, nullIfEmpty(pr.FirstName), nullIfEmpty(pr.LastName), nullIfEmpty(pr.Phone),
		nullIfEmpty(pr.CountryCode), nullIfEmpty(pr.DOB), nullIfEmpty(pr.Gender), nullIfEmpty(pr.Avatar),
		nullIfEmpty(pr.Address), nullIfEmpty(pr.City), nullIfEmpty(pr.State), nullIfEmpty(pr.Country),
		nullIfEmpty(pr.Zip), nullIfEmpty(pr.Timezone), pr.Language, device, meta, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (p profiles) FindByUser(ctx context.Context, userID string) (*auth.Profile, error) {
	var row profileRow
	err := sqlx.GetContext(ctx, p.s.ext, &row, `
		select user_id,
		       coalesce(first_name, '') as first_name, coalesce(last_name, '') as last_name,
		       coalesce(phone, '') as phone, coalesce(country_code, '') as country_code,
		       coalesce(dob::text, '') as dob, coalesce(gender, '') as gender,
		       coalesce(avatar, '') as avatar, coalesce(address, '') as address,
		       coalesce(city, '') as city, coalesce(state, '') as state,
		       coalesce(country, '') as country, coalesce(zip, '') as zip,
		       coalesce(timezone, '') as timezone, language,
		       device_info, metadata, created_at, updated_at
		from user_profiles
		where user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	device, err := decodeJSON(row.DeviceInfo)
	if err != nil {
		return nil, err
	}
	meta, err := decodeJSON(row.Metadata)
	if err != nil {
		return nil, err
	}
	return &auth.Profile{
		UserID:      row.UserID,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		Phone:       row.Phone,
		CountryCode: row.CountryCode,
		DOB:         row.DOB,
		Gender:      row.Gender,
		Avatar:      row.Avatar,
		Address:     row.Address,
		City:        row.City,
		State:       row.State,
		Country:     row.Country,
		Zip:         row.Zip,
		Timezone:    row.Timezone,
		Language:    row.Language,
		DeviceInfo:  device,
		Metadata:    meta,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
