// Package group resolves group identity, participation records and the
// (group, account) -> cluster mapping that bounds fan-out.
package group

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-sql-driver/mysql"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// OnlineBinder is the hook into the conversation layer: when a participation
// is created while the account is online, the new group exchange gets bound
// into the live private exchange without a reconnect. Offline accounts are a
// no-op.
type OnlineBinder interface {
	BindAccountToGroup(ctx context.Context, accountID string, gp model.GroupParticipation)
}

// Purger is the slice of the history store the directory needs when a group
// is removed: its recipient streams get purged.
type Purger interface {
	DeleteMessages(ctx context.Context, gamespaceID string, rcpt model.Recipient) error
}

// Directory implements group bookkeeping on MySQL with a hot LRU on group
// identity lookups.
type Directory struct {
	db          *sql.DB
	logger      *slog.Logger
	history     Purger
	clusterSize int

	cache  *lru.Cache[string, *model.Group]
	online OnlineBinder
}

func NewDirectory(db *sql.DB, history Purger, defaultClusterSize int, logger *slog.Logger) *Directory {
	cache, _ := lru.New[string, *model.Group](4096)
	if defaultClusterSize < 1 {
		defaultClusterSize = 1000
	}
	return &Directory{
		db:          db,
		logger:      logger,
		history:     history,
		clusterSize: defaultClusterSize,
		cache:       cache,
	}
}

// BindOnline attaches the conversation registry once it exists.
func (d *Directory) BindOnline(online OnlineBinder) { d.online = online }

func cacheKey(gamespaceID, class, key string) string {
	return gamespaceID + "|" + class + "|" + key
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

const groupColumns = "`group_id`, `gamespace_id`, `group_class`, `group_key`, " +
	"`group_store_messages`, `group_clustered`, `group_cluster_size`"

func scanGroup(row interface{ Scan(...any) error }) (*model.Group, error) {
	var g model.Group
	err := row.Scan(&g.GroupID, &g.GamespaceID, &g.Class, &g.Key,
		&g.StoreMessages, &g.Clustered, &g.ClusterSize)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// AddGroup registers a new group; the zero clusterSize falls back to the
// configured default.
func (d *Directory) AddGroup(ctx context.Context, gamespaceID, class, key string, storeMessages, clustered bool, clusterSize int) (int64, error) {
	if class == model.ClassUser {
		return 0, model.NewError(model.KindBadInput, "group class %q is reserved", model.ClassUser)
	}
	if clusterSize < 1 {
		clusterSize = d.clusterSize
	}

	res, err := d.db.ExecContext(ctx,
		"INSERT INTO `groups` (`gamespace_id`, `group_class`, `group_key`, "+
			"`group_store_messages`, `group_clustered`, `group_cluster_size`) "+
			"VALUES (?, ?, ?, ?, ?, ?)",
		gamespaceID, class, key, storeMessages, clustered, clusterSize,
	)
	if err != nil {
		if isDuplicate(err) {
			return 0, model.WrapError(model.KindAlreadyExists, err, "group already exists")
		}
		return 0, model.WrapError(model.KindStorage, err, "failed to add group")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, model.WrapError(model.KindStorage, err, "failed to add group")
	}
	return id, nil
}

// FindGroup resolves a group by (class, key), cache-aside.
func (d *Directory) FindGroup(ctx context.Context, gamespaceID, class, key string) (*model.Group, error) {
	ck := cacheKey(gamespaceID, class, key)
	if g, ok := d.cache.Get(ck); ok {
		return g, nil
	}

	row := d.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM `groups` "+
			"WHERE `gamespace_id`=? AND `group_class`=? AND `group_key`=?",
		gamespaceID, class, key,
	)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "no such group")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to find group")
	}

	d.cache.Add(ck, g)
	return g, nil
}

func (d *Directory) GetGroup(ctx context.Context, gamespaceID string, groupID int64) (*model.Group, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM `groups` WHERE `group_id`=? AND `gamespace_id`=?",
		groupID, gamespaceID,
	)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "no such group")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to get group")
	}
	return g, nil
}

// DeleteGroup removes the group and purges its message streams: every
// cluster's stream for clustered groups, the single stream otherwise.
func (d *Directory) DeleteGroup(ctx context.Context, gamespaceID string, groupID int64) error {
	g, err := d.GetGroup(ctx, gamespaceID, groupID)
	if err != nil {
		return err
	}

	groupKey := strconv.FormatInt(groupID, 10)
	if g.Clustered {
		clusters, err := d.listClusters(ctx, gamespaceID, groupID)
		if err != nil {
			return err
		}
		for _, cluster := range clusters {
			rcpt := model.Recipient{Class: g.Class, Key: groupKey + "-" + strconv.FormatInt(cluster, 10)}
			if err := d.history.DeleteMessages(ctx, gamespaceID, rcpt); err != nil {
				return err
			}
		}
	} else {
		rcpt := model.Recipient{Class: g.Class, Key: groupKey}
		if err := d.history.DeleteMessages(ctx, gamespaceID, rcpt); err != nil {
			return err
		}
	}

	for _, stmt := range []string{
		"DELETE FROM `group_cluster_accounts` WHERE `group_id`=? AND `gamespace_id`=?",
		"DELETE FROM `group_clusters` WHERE `group_id`=? AND `gamespace_id`=?",
		"DELETE FROM `group_participants` WHERE `group_id`=? AND `gamespace_id`=?",
		"DELETE FROM `groups` WHERE `group_id`=? AND `gamespace_id`=?",
	} {
		if _, err := d.db.ExecContext(ctx, stmt, groupID, gamespaceID); err != nil {
			return model.WrapError(model.KindStorage, err, "failed to delete group")
		}
	}

	d.cache.Remove(cacheKey(gamespaceID, g.Class, g.Key))
	return nil
}

func (d *Directory) UpdateGroup(ctx context.Context, g *model.Group) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE `groups` SET `group_class`=?, `group_key`=?, `group_store_messages`=?, "+
			"`group_cluster_size`=? WHERE `gamespace_id`=? AND `group_id`=?",
		g.Class, g.Key, g.StoreMessages, g.ClusterSize, g.GamespaceID, g.GroupID,
	)
	if err != nil {
		return model.WrapError(model.KindStorage, err, "failed to update group")
	}
	d.cache.Remove(cacheKey(g.GamespaceID, g.Class, g.Key))
	return nil
}

func (d *Directory) listClusters(ctx context.Context, gamespaceID string, groupID int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT `cluster_id` FROM `group_clusters` WHERE `group_id`=? AND `gamespace_id`=? ORDER BY `cluster_id`",
		groupID, gamespaceID,
	)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to list clusters")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, model.WrapError(model.KindStorage, err, "failed to list clusters")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
