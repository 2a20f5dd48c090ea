package catalogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by GetByURL when no row exists for the URL.
var ErrNotFound = errors.New("page not found")

// Store gives typed access to the pages table. Every operation runs inside
// its own transaction: commit on normal return, rollback on any fault. There
// is no internal retry; callers decide what a failure means.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDue returns the URLs that need a (re)scrape: never-scraped placeholders
// plus pages last accessed more than accessDayDifference days ago. The result
// is shuffled so consecutive requests don't hammer one onion domain.
func (s *Store) ListDue(ctx context.Context, accessDayDifference int) ([]string, error) {
	cutoff := time.Now().AddDate(0, 0, -accessDayDifference)

	var urls []string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT url FROM pages
			 WHERE new_url = TRUE
			    OR (date_accessed IS NOT NULL AND date_accessed < $1)
			 ORDER BY date_added ASC`, cutoff)
		if err != nil {
			return fmt.Errorf("querying due urls: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				return fmt.Errorf("scanning due url: %w", err)
			}
			urls = append(urls, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	rand.Shuffle(len(urls), func(i, j int) {
		urls[i], urls[j] = urls[j], urls[i]
	})
	return urls, nil
}

// ListTrainable returns scraped pages with a non-empty title and body, the
// corpus the topic model trains on.
func (s *Store) ListTrainable(ctx context.Context) ([]Page, error) {
	var pages []Page
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			selectColumns+`
			 WHERE new_url = FALSE
			   AND page_title IS NOT NULL AND length(page_title) > 0
			   AND page_content IS NOT NULL AND length(page_content) > 0`)
		if err != nil {
			return fmt.Errorf("querying trainable pages: %w", err)
		}
		defer rows.Close()

		pages, err = scanPages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// GetByURL returns the page for a URL, or ErrNotFound.
func (s *Store) GetByURL(ctx context.Context, url string) (*Page, error) {
	var page *Page
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectColumns+` WHERE url = $1`, url)
		p, err := scanPage(row)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying page %s: %w", url, err)
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetAllURLs returns the set of every URL known to the catalogue.
func (s *Store) GetAllURLs(ctx context.Context) (map[string]struct{}, error) {
	urls := make(map[string]struct{})
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT url FROM pages`)
		if err != nil {
			return fmt.Errorf("querying all urls: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				return fmt.Errorf("scanning url: %w", err)
			}
			urls[u] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// SearchByURLs returns the pages for the given URLs in no particular order;
// callers re-sort against their own ranking.
func (s *Store) SearchByURLs(ctx context.Context, urls []string) ([]Page, error) {
	var pages []Page
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectColumns+` WHERE url = ANY($1)`, urls)
		if err != nil {
			return fmt.Errorf("querying pages by urls: %w", err)
		}
		defer rows.Close()

		pages, err = scanPages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// UpdateScraped upgrades an existing row with freshly scraped content. The
// row stops being a placeholder: new_url flips to false and date_accessed is
// stamped with the processing wall-clock time.
func (s *Store) UpdateScraped(ctx context.Context, url string, result ScrapeResult) error {
	meta, err := marshalMetaTags(result.MetaTags)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE pages
			 SET page_title = $2, page_content = $3, meta_tags = $4,
			     date_accessed = NOW(), new_url = FALSE
			 WHERE url = $1`,
			url, result.PageTitle, result.PageContent, meta)
		if err != nil {
			return fmt.Errorf("updating scraped page %s: %w", url, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// InsertPlaceholder records a newly discovered URL that has not been scraped
// yet, remembering which page it was found on.
func (s *Store) InsertPlaceholder(ctx context.Context, url, parentURL string) error {
	// Seed rows have no parent; keep the column NULL rather than "".
	var parent *string
	if parentURL != "" {
		parent = &parentURL
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO pages (url, parent_url, new_url, date_added)
			 VALUES ($1, $2, TRUE, NOW())`,
			url, parent)
		if err != nil {
			return fmt.Errorf("inserting placeholder %s: %w", url, err)
		}
		return nil
	})
}

// InsertScraped stores a scrape result for a URL the catalogue has never seen.
// This should not happen when the pipeline is healthy, but a result on the
// queue is worth keeping either way.
func (s *Store) InsertScraped(ctx context.Context, result ScrapeResult) error {
	meta, err := marshalMetaTags(result.MetaTags)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO pages (url, page_title, page_content, meta_tags,
			                    date_accessed, new_url, date_added)
			 VALUES ($1, $2, $3, $4, NOW(), FALSE, NOW())`,
			result.URL, result.PageTitle, result.PageContent, meta)
		if err != nil {
			return fmt.Errorf("inserting scraped page %s: %w", result.URL, err)
		}
		return nil
	})
}

const selectColumns = `SELECT url, date_accessed, page_title, page_content, meta_tags, parent_url, new_url, date_added FROM pages`

func scanPage(row pgx.Row) (*Page, error) {
	p := &Page{}
	var meta []byte
	if err := row.Scan(&p.URL, &p.DateAccessed, &p.PageTitle, &p.PageContent,
		&meta, &p.ParentURL, &p.NewURL, &p.DateAdded); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.MetaTags); err != nil {
			return nil, fmt.Errorf("decoding meta_tags for %s: %w", p.URL, err)
		}
	}
	return p, nil
}

func scanPages(rows pgx.Rows) ([]Page, error) {
	var pages []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

func marshalMetaTags(tags []MetaTag) ([]byte, error) {
	if tags == nil {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding meta_tags: %w", err)
	}
	return data, nil
}
