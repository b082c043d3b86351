package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const partColumns = `id, user_id, name, description, category_id, buying_price, selling_price,
	quantity, min_quantity, manufacturer, part_number, barcode, created_at, updated_at`

const searchDocument = `to_tsvector('simple', name || ' ' || description || ' ' || part_number || ' ' || coalesce(barcode, ''))`

func scanPart(row rowScanner) (domain.Part, error) {
	var p domain.Part
	var barcode sql.NullString
	err := row.Scan(
		&p.ID, &p.Owner, &p.Name, &p.Description, &p.Category, &p.BuyingPrice, &p.SellingPrice,
		&p.Quantity, &p.MinQuantity, &p.Manufacturer, &p.PartNumber, &barcode, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Part{}, err
	}
	if barcode.Valid {
		code := barcode.String
		p.Barcode = &code
	}
	return p, nil
}

func (s *Store) queryParts(ctx context.Context, query string, args ...any) ([]domain.Part, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parts := make([]domain.Part, 0, 32)
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *Store) ListParts(ctx context.Context, owner string) ([]domain.Part, error) {
	return s.queryParts(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE user_id = $1
		ORDER BY name, id
	`, owner)
}

func (s *Store) GetPart(ctx context.Context, owner string, id string) (*domain.Part, error) {
	p, err := scanPart(s.db.QueryRowContext(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE id = $1 AND user_id = $2
	`, id, owner))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetPartByBarcode(ctx context.Context, owner string, barcode string) (*domain.Part, error) {
	p, err := scanPart(s.db.QueryRowContext(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE user_id = $1 AND barcode = $2
	`, owner, barcode))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetPartsByIDs(ctx context.Context, owner string, ids []string) (map[string]domain.Part, error) {
	result := make(map[string]domain.Part, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	parts, err := s.queryParts(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE user_id = $1 AND id = ANY($2)
	`, owner, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	if part.ID == "" || part.Owner == "" {
		return nil, store.ErrInvalid
	}

	created, err := scanPart(s.db.QueryRowContext(ctx, `
		INSERT INTO parts (
			id, user_id, name, description, category_id, buying_price, selling_price,
			quantity, min_quantity, manufacturer, part_number, barcode, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+partColumns,
		part.ID, part.Owner, part.Name, part.Description, part.Category, part.BuyingPrice, part.SellingPrice,
		part.Quantity, part.MinQuantity, part.Manufacturer, part.PartNumber, nullableString(part.Barcode),
		timeOrNow(part.CreatedAt), timeOrNow(part.UpdatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	updated, err := scanPart(s.db.QueryRowContext(ctx, `
		UPDATE parts
		SET name = $3, description = $4, category_id = $5, buying_price = $6, selling_price = $7,
			quantity = $8, min_quantity = $9, manufacturer = $10, part_number = $11, barcode = $12,
			updated_at = $13
		WHERE id = $1 AND user_id = $2
		RETURNING `+partColumns,
		part.ID, part.Owner, part.Name, part.Description, part.Category, part.BuyingPrice, part.SellingPrice,
		part.Quantity, part.MinQuantity, part.Manufacturer, part.PartNumber, nullableString(part.Barcode),
		timeOrNow(part.UpdatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) DeletePart(ctx context.Context, owner string, id string) error {
	return s.deleteOwned(ctx, `DELETE FROM parts WHERE id = $1 AND user_id = $2`, id, owner)
}

func (s *Store) SearchParts(ctx context.Context, owner string, query string) ([]domain.Part, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Part{}, nil
	}
	return s.queryParts(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE user_id = $1 AND `+searchDocument+` @@ plainto_tsquery('simple', $2)
		ORDER BY ts_rank(`+searchDocument+`, plainto_tsquery('simple', $2)) DESC, name
	`, owner, query)
}

func (s *Store) ListLowStockParts(ctx context.Context, owner string) ([]domain.Part, error) {
	return s.queryParts(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE user_id = $1 AND quantity <= min_quantity
		ORDER BY name, id
	`, owner)
}

func (s *Store) AdjustPartQuantity(ctx context.Context, owner string, id string, delta int) (*domain.Part, error) {
	p, err := scanPart(s.db.QueryRowContext(ctx, `
		UPDATE parts
		SET quantity = quantity + $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+partColumns,
		id, owner, delta,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

const categoryColumns = `id, user_id, name, description, created_at, updated_at`

func scanCategory(row rowScanner) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(&c.ID, &c.Owner, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) queryCategories(ctx context.Context, query string, args ...any) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ListCategories(ctx context.Context, owner string) ([]domain.Category, error) {
	return s.queryCategories(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE user_id = $1
		ORDER BY name
	`, owner)
}

func (s *Store) GetCategory(ctx context.Context, owner string, id string) (*domain.Category, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE id = $1 AND user_id = $2
	`, id, owner))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetCategoriesByIDs(ctx context.Context, owner string, ids []string) (map[string]domain.Category, error) {
	result := make(map[string]domain.Category, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	categories, err := s.queryCategories(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE user_id = $1 AND id = ANY($2)
	`, owner, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range categories {
		result[c.ID] = c
	}
	return result, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" || category.Owner == "" {
		return nil, store.ErrInvalid
	}
	created, err := scanCategory(s.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, user_id, name, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+categoryColumns,
		category.ID, category.Owner, category.Name, category.Description,
		timeOrNow(category.CreatedAt), timeOrNow(category.UpdatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	updated, err := scanCategory(s.db.QueryRowContext(ctx, `
		UPDATE categories
		SET name = $3, description = $4, updated_at = $5
		WHERE id = $1 AND user_id = $2
		RETURNING `+categoryColumns,
		category.ID, category.Owner, category.Name, category.Description, timeOrNow(category.UpdatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) DeleteCategory(ctx context.Context, owner string, id string) error {
	return s.deleteOwned(ctx, `DELETE FROM categories WHERE id = $1 AND user_id = $2`, id, owner)
}

const orderColumns = `id, user_id, order_number, total_amount, status, payment_method,
	customer_name, customer_phone, customer_email, car_registration,
	cash_received, change_amount, created_at, updated_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var cash, change decimal.NullDecimal
	err := row.Scan(
		&o.ID, &o.Owner, &o.OrderNumber, &o.TotalAmount, &o.Status, &o.PaymentMethod,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail, &o.CarRegistration,
		&cash, &change, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if cash.Valid {
		v := cash.Decimal
		o.CashReceived = &v
	}
	if change.Valid {
		v := change.Decimal
		o.ChangeAmount = &v
	}
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.Owner == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalid
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanOrder(tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			id, user_id, order_number, total_amount, status, payment_method,
			customer_name, customer_phone, customer_email, car_registration,
			cash_received, change_amount, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+orderColumns,
		order.ID, order.Owner, order.OrderNumber, order.TotalAmount, string(order.Status), string(order.PaymentMethod),
		order.CustomerName, order.CustomerPhone, order.CustomerEmail, order.CarRegistration,
		nullableDecimal(order.CashReceived), nullableDecimal(order.ChangeAmount),
		timeOrNow(order.CreatedAt), timeOrNow(order.UpdatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, part_id, quantity, price)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, i, item.Part, item.Quantity, item.Price); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created.Items = append([]domain.OrderItem(nil), order.Items...)
	return &created, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids = append(ids, o.ID)
		index[o.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, part_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.Part, &item.Quantity, &item.Price); err != nil {
			return err
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}

func (s *Store) ListOrders(ctx context.Context, owner string) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, owner)
}

func (s *Store) GetOrder(ctx context.Context, owner string, id string) (*domain.Order, error) {
	orders, err := s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND user_id = $2
	`, id, owner)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, store.ErrNotFound
	}
	return &orders[0], nil
}

func (s *Store) UpdateOrder(ctx context.Context, owner string, id string, update domain.OrderUpdate) (*domain.Order, error) {
	var status, method any
	if update.Status != nil {
		status = string(*update.Status)
	}
	if update.PaymentMethod != nil {
		method = string(*update.PaymentMethod)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = COALESCE($3, status),
			payment_method = COALESCE($4, payment_method),
			cash_received = COALESCE($5, cash_received),
			change_amount = COALESCE($6, change_amount),
			updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, id, owner, status, method, nullableDecimal(update.CashReceived), nullableDecimal(update.ChangeAmount))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetOrder(ctx, owner, id)
}

func (s *Store) ListCompletedOrders(ctx context.Context, owner string, from time.Time, to time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND status = 'COMPLETED' AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC, id
	`, owner, from, to)
}

const userColumns = `id, username, email, password_hash, role, status, created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return store.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Username, strings.ToLower(user.Email), user.PasswordHash, user.Role, string(user.Status), timeOrNow(user.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) getUser(ctx context.Context, column string, value string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE `+column+` = $1
	`, value))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email", strings.ToLower(email))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *Store) ListUsers(ctx context.Context, status domain.UserStatus) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE $1::text = '' OR status = $1::text
		ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserStatus(ctx context.Context, id string, status domain.UserStatus) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET status = $2
		WHERE id = $1
		RETURNING `+userColumns,
		id, string(status),
	))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) deleteOwned(ctx context.Context, query string, id string, owner string) error {
	res, err := s.db.ExecContext(ctx, query, id, owner)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return *v
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
