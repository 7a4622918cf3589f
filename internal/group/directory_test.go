package group

import (
	"context"
	"log/slog"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

type purgeRecorder struct {
	purged []model.Recipient
}

func (p *purgeRecorder) DeleteMessages(_ context.Context, _ string, rcpt model.Recipient) error {
	p.purged = append(p.purged, rcpt)
	return nil
}

type bindRecorder struct {
	bound []model.GroupParticipation
}

func (b *bindRecorder) BindAccountToGroup(_ context.Context, _ string, gp model.GroupParticipation) {
	b.bound = append(b.bound, gp)
}

func newTestDirectory(t *testing.T) (*Directory, sqlmock.Sqlmock, *purgeRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	purger := &purgeRecorder{}
	return NewDirectory(db, purger, 2, slog.Default()), mock, purger
}

func groupRows(g *model.Group) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"group_id", "gamespace_id", "group_class", "group_key",
		"group_store_messages", "group_clustered", "group_cluster_size",
	}).AddRow(g.GroupID, g.GamespaceID, g.Class, g.Key,
		g.StoreMessages, g.Clustered, g.ClusterSize)
}

func TestAddGroupRejectsUserClass(t *testing.T) {
	d, _, _ := newTestDirectory(t)

	_, err := d.AddGroup(context.Background(), "gs1", "user", "123", true, false, 0)
	assert.Equal(t, model.KindBadInput, model.KindOf(err))
}

func TestAddGroupDuplicate(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	mock.ExpectExec("INSERT INTO `groups`").
		WillReturnError(&mysql.MySQLError{Number: 1062})

	_, err := d.AddGroup(context.Background(), "gs1", "party", "alpha", true, false, 0)
	assert.Equal(t, model.KindAlreadyExists, model.KindOf(err))
}

func TestFindGroupCachesLookup(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	g := &model.Group{GroupID: 10, GamespaceID: "gs1", Class: "party", Key: "alpha",
		StoreMessages: true, ClusterSize: 2}
	mock.ExpectQuery("SELECT (.+) FROM `groups`").
		WithArgs("gs1", "party", "alpha").
		WillReturnRows(groupRows(g))

	first, err := d.FindGroup(context.Background(), "gs1", "party", "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(10), first.GroupID)

	// Second lookup is served by the cache, no further query expected.
	second, err := d.FindGroup(context.Background(), "gs1", "party", "alpha")
	require.NoError(t, err)
	assert.Same(t, first, second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindGroupNotFound(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	mock.ExpectQuery("SELECT (.+) FROM `groups`").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}))

	_, err := d.FindGroup(context.Background(), "gs1", "party", "missing")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestJoinFlatGroup(t *testing.T) {
	d, mock, _ := newTestDirectory(t)
	online := &bindRecorder{}
	d.BindOnline(online)

	g := &model.Group{GroupID: 10, GamespaceID: "gs1", Class: "party", Key: "alpha"}

	mock.ExpectExec("INSERT INTO `group_participants`").
		WithArgs("gs1", int64(10), "acct-1", "member", int64(0)).
		WillReturnResult(sqlmock.NewResult(77, 1))

	p, err := d.Join(context.Background(), g, "acct-1", "member")
	require.NoError(t, err)
	assert.Equal(t, int64(77), p.ParticipationID)
	assert.Equal(t, int64(0), p.ClusterID)

	require.Len(t, online.bound, 1)
	assert.Equal(t, "10", online.bound[0].RecipientKey())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinClusteredGroupOpensFirstCluster(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	g := &model.Group{GroupID: 11, GamespaceID: "gs1", Class: "raid", Key: "beta",
		Clustered: true, ClusterSize: 2}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `cluster_id` FROM `group_cluster_accounts`").
		WithArgs("gs1", int64(11), "acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id"}))
	mock.ExpectQuery("SELECT `c`.`cluster_id` FROM `group_clusters`").
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id"}))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `group_clusters`").
		WithArgs("gs1", int64(11), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `group_cluster_accounts`").
		WithArgs("gs1", int64(11), int64(0), "acct-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec("INSERT INTO `group_participants`").
		WithArgs("gs1", int64(11), "acct-1", "member", int64(0)).
		WillReturnResult(sqlmock.NewResult(88, 1))

	p, err := d.Join(context.Background(), g, "acct-1", "member")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.ClusterID)

	gp := model.GroupParticipation{Group: *g, Participation: *p}
	assert.Equal(t, "11-0", gp.RecipientKey())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinClusteredGroupReusesFreeCluster(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	g := &model.Group{GroupID: 11, GamespaceID: "gs1", Class: "raid", Key: "beta",
		Clustered: true, ClusterSize: 2}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `cluster_id` FROM `group_cluster_accounts`").
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id"}))
	mock.ExpectQuery("SELECT `c`.`cluster_id` FROM `group_clusters`").
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id"}).AddRow(3))
	mock.ExpectExec("INSERT INTO `group_cluster_accounts`").
		WithArgs("gs1", int64(11), int64(3), "acct-2").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec("INSERT INTO `group_participants`").
		WithArgs("gs1", int64(11), "acct-2", "member", int64(3)).
		WillReturnResult(sqlmock.NewResult(89, 1))

	p, err := d.Join(context.Background(), g, "acct-2", "member")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.ClusterID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinClusteredGroupRejoinKeepsCluster(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	g := &model.Group{GroupID: 11, GamespaceID: "gs1", Class: "raid", Key: "beta",
		Clustered: true, ClusterSize: 2}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `cluster_id` FROM `group_cluster_accounts`").
		WithArgs("gs1", int64(11), "acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id"}).AddRow(1))
	mock.ExpectCommit()

	mock.ExpectExec("INSERT INTO `group_participants`").
		WithArgs("gs1", int64(11), "acct-1", "member", int64(1)).
		WillReturnResult(sqlmock.NewResult(90, 1))

	p, err := d.Join(context.Background(), g, "acct-1", "member")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ClusterID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinDuplicateParticipation(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	g := &model.Group{GroupID: 10, GamespaceID: "gs1", Class: "party", Key: "alpha"}

	mock.ExpectExec("INSERT INTO `group_participants`").
		WillReturnError(&mysql.MySQLError{Number: 1062})

	_, err := d.Join(context.Background(), g, "acct-1", "member")
	assert.Equal(t, model.KindAlreadyExists, model.KindOf(err))
}

func TestDeleteGroupPurgesClusterStreams(t *testing.T) {
	d, mock, purger := newTestDirectory(t)

	g := &model.Group{GroupID: 11, GamespaceID: "gs1", Class: "raid", Key: "beta",
		Clustered: true, ClusterSize: 2}

	mock.ExpectQuery("SELECT (.+) FROM `groups` WHERE `group_id`").
		WithArgs(int64(11), "gs1").
		WillReturnRows(groupRows(g))
	mock.ExpectQuery("SELECT `cluster_id` FROM `group_clusters`").
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id"}).AddRow(0).AddRow(1))
	mock.ExpectExec("DELETE FROM `group_cluster_accounts`").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM `group_clusters`").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM `group_participants`").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM `groups`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.DeleteGroup(context.Background(), "gs1", 11))

	require.Len(t, purger.purged, 2)
	assert.Equal(t, model.Recipient{Class: "raid", Key: "11-0"}, purger.purged[0])
	assert.Equal(t, model.Recipient{Class: "raid", Key: "11-1"}, purger.purged[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAccountParticipations(t *testing.T) {
	d, mock, _ := newTestDirectory(t)

	rows := sqlmock.NewRows([]string{
		"group_id", "gamespace_id", "group_class", "group_key",
		"group_store_messages", "group_clustered", "group_cluster_size",
		"participation_id", "participation_role", "cluster_id",
	}).
		AddRow(10, "gs1", "party", "alpha", true, false, 2, 77, "member", 0).
		AddRow(11, "gs1", "raid", "beta", true, true, 2, 88, "member", 1)

	mock.ExpectQuery("SELECT (.+) FROM `group_participants` AS `p`").
		WithArgs("acct-1", "gs1").
		WillReturnRows(rows)

	gps, err := d.ListAccountParticipations(context.Background(), "gs1", "acct-1")
	require.NoError(t, err)
	require.Len(t, gps, 2)

	assert.Equal(t, "10", gps[0].RecipientKey())
	assert.Equal(t, "11-1", gps[1].RecipientKey())
	assert.Equal(t, "acct-1", gps[1].Participation.AccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
