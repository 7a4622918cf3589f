package group

import (
	"context"
	"database/sql"
	"errors"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

const participationColumns = "`participation_id`, `group_id`, `gamespace_id`, " +
	"`participation_account`, `participation_role`, `cluster_id`"

func scanParticipation(row interface{ Scan(...any) error }) (*model.Participation, error) {
	var p model.Participation
	err := row.Scan(&p.ParticipationID, &p.GroupID, &p.GamespaceID,
		&p.AccountID, &p.Role, &p.ClusterID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Join adds the account to the group. Clustered groups pin the account to
// the first cluster with free capacity (a fresh one when all are full);
// the online registry is then told to bind the member's stream live.
func (d *Directory) Join(ctx context.Context, g *model.Group, accountID, role string) (*model.Participation, error) {
	var clusterID int64
	if g.Clustered {
		var err error
		clusterID, err = d.assignCluster(ctx, g, accountID)
		if err != nil {
			return nil, err
		}
	}

	res, err := d.db.ExecContext(ctx,
		"INSERT INTO `group_participants` "+
			"(`gamespace_id`, `group_id`, `participation_account`, `participation_role`, `cluster_id`) "+
			"VALUES (?, ?, ?, ?, ?)",
		g.GamespaceID, g.GroupID, accountID, role, clusterID,
	)
	if err != nil {
		if isDuplicate(err) {
			return nil, model.WrapError(model.KindAlreadyExists, err, "already joined")
		}
		return nil, model.WrapError(model.KindStorage, err, "failed to join group")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to join group")
	}

	p := &model.Participation{
		ParticipationID: id,
		GroupID:         g.GroupID,
		GamespaceID:     g.GamespaceID,
		AccountID:       accountID,
		Role:            role,
		ClusterID:       clusterID,
	}

	if d.online != nil {
		d.online.BindAccountToGroup(ctx, accountID, model.GroupParticipation{
			Group:         *g,
			Participation: *p,
		})
	}

	return p, nil
}

// assignCluster finds (or creates) the account's cluster within the group.
// Cluster ids start at zero and a cluster never exceeds the group's size.
func (d *Directory) assignCluster(ctx context.Context, g *model.Group, accountID string) (int64, error) {
	size := g.ClusterSize
	if size < 1 {
		size = d.clusterSize
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, model.WrapError(model.KindStorage, err, "failed to assign cluster")
	}
	defer tx.Rollback()

	// Re-joins land in the cluster the account already occupies.
	var clusterID int64
	err = tx.QueryRowContext(ctx,
		"SELECT `cluster_id` FROM `group_cluster_accounts` "+
			"WHERE `gamespace_id`=? AND `group_id`=? AND `account_id`=?",
		g.GamespaceID, g.GroupID, accountID,
	).Scan(&clusterID)
	if err == nil {
		return clusterID, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, model.WrapError(model.KindStorage, err, "failed to assign cluster")
	}

	// First cluster with free capacity, locked so parallel joins cannot
	// overfill it.
	err = tx.QueryRowContext(ctx,
		"SELECT `c`.`cluster_id` FROM `group_clusters` AS `c` "+
			"WHERE `c`.`gamespace_id`=? AND `c`.`group_id`=? AND ("+
			"  SELECT COUNT(*) FROM `group_cluster_accounts` AS `a` "+
			"  WHERE `a`.`gamespace_id`=`c`.`gamespace_id` "+
			"    AND `a`.`group_id`=`c`.`group_id` AND `a`.`cluster_id`=`c`.`cluster_id`"+
			") < ? ORDER BY `c`.`cluster_id` LIMIT 1 FOR UPDATE",
		g.GamespaceID, g.GroupID, size,
	).Scan(&clusterID)
	if errors.Is(err, sql.ErrNoRows) {
		// Every cluster is full (or none exists yet): open the next one.
		err = tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(`cluster_id`)+1, 0) FROM `group_clusters` "+
				"WHERE `gamespace_id`=? AND `group_id`=?",
			g.GamespaceID, g.GroupID,
		).Scan(&clusterID)
		if err != nil {
			return 0, model.WrapError(model.KindStorage, err, "failed to assign cluster")
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO `group_clusters` (`gamespace_id`, `group_id`, `cluster_id`) VALUES (?, ?, ?)",
			g.GamespaceID, g.GroupID, clusterID,
		)
		if err != nil {
			return 0, model.WrapError(model.KindStorage, err, "failed to assign cluster")
		}
	} else if err != nil {
		return 0, model.WrapError(model.KindStorage, err, "failed to assign cluster")
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO `group_cluster_accounts` (`gamespace_id`, `group_id`, `cluster_id`, `account_id`) "+
			"VALUES (?, ?, ?, ?)",
		g.GamespaceID, g.GroupID, clusterID, accountID,
	)
	if err != nil {
		return 0, model.WrapError(model.KindStorage, err, "failed to assign cluster")
	}

	if err := tx.Commit(); err != nil {
		return 0, model.WrapError(model.KindStorage, err, "failed to assign cluster")
	}
	return clusterID, nil
}

// Leave removes the account's participation. The cluster seat stays
// occupied so a re-join lands in the same cluster.
func (d *Directory) Leave(ctx context.Context, gamespaceID string, groupID int64, accountID string) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM `group_participants` "+
			"WHERE `gamespace_id`=? AND `group_id`=? AND `participation_account`=?",
		gamespaceID, groupID, accountID,
	)
	if err != nil {
		return model.WrapError(model.KindStorage, err, "failed to leave group")
	}
	return nil
}

// FindParticipant returns the account's membership in one group.
func (d *Directory) FindParticipant(ctx context.Context, gamespaceID string, groupID int64, accountID string) (*model.Participation, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+participationColumns+" FROM `group_participants` "+
			"WHERE `group_id`=? AND `participation_account`=? AND `gamespace_id`=?",
		groupID, accountID, gamespaceID,
	)
	p, err := scanParticipation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "no such participant")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to find participant")
	}
	return p, nil
}

// ListParticipants lists every member of one group.
func (d *Directory) ListParticipants(ctx context.Context, gamespaceID string, groupID int64) ([]*model.Participation, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+participationColumns+" FROM `group_participants` "+
			"WHERE `group_id`=? AND `gamespace_id`=?",
		groupID, gamespaceID,
	)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to list participants")
	}
	defer rows.Close()

	var out []*model.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, model.WrapError(model.KindStorage, err, "failed to list participants")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAccountParticipations returns every group the account participates
// in, paired with the membership record. The conversation endpoint binds
// one exchange per entry on attach.
func (d *Directory) ListAccountParticipations(ctx context.Context, gamespaceID, accountID string) ([]model.GroupParticipation, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT `g`.`group_id`, `g`.`gamespace_id`, `g`.`group_class`, `g`.`group_key`, "+
			"`g`.`group_store_messages`, `g`.`group_clustered`, `g`.`group_cluster_size`, "+
			"`p`.`participation_id`, `p`.`participation_role`, `p`.`cluster_id` "+
			"FROM `group_participants` AS `p` "+
			"INNER JOIN `groups` AS `g` ON `p`.`group_id`=`g`.`group_id` "+
			"WHERE `p`.`participation_account`=? AND `p`.`gamespace_id`=?",
		accountID, gamespaceID,
	)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to list participations")
	}
	defer rows.Close()

	var out []model.GroupParticipation
	for rows.Next() {
		var gp model.GroupParticipation
		err := rows.Scan(
			&gp.Group.GroupID, &gp.Group.GamespaceID, &gp.Group.Class, &gp.Group.Key,
			&gp.Group.StoreMessages, &gp.Group.Clustered, &gp.Group.ClusterSize,
			&gp.Participation.ParticipationID, &gp.Participation.Role, &gp.Participation.ClusterID,
		)
		if err != nil {
			return nil, model.WrapError(model.KindStorage, err, "failed to list participations")
		}
		gp.Participation.GroupID = gp.Group.GroupID
		gp.Participation.GamespaceID = gamespaceID
		gp.Participation.AccountID = accountID
		out = append(out, gp)
	}
	return out, rows.Err()
}
