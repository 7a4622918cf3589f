package model

import "strconv"

// Group is a named recipient set. Clustered groups shard participants into
// fixed-size buckets so a single publish never fans out past ClusterSize
// conversations.
type Group struct {
	GroupID       int64
	GamespaceID   string
	Class         string
	Key           string
	StoreMessages bool
	Clustered     bool
	ClusterSize   int
}

// Participation binds an account into a group. Cluster ids start at zero;
// for flat groups the id is zero and unused.
type Participation struct {
	ParticipationID int64
	GroupID         int64
	GamespaceID     string
	AccountID       string
	Role            string
	ClusterID       int64
}

// GroupParticipation pairs a group with one account's membership record,
// the unit the conversation endpoint binds exchanges from.
type GroupParticipation struct {
	Group         Group
	Participation Participation
}

// RecipientKey returns the effective recipient key of the member's stream:
// "<group_id>-<cluster_id>" for clustered groups, "<group_id>" for flat.
func (gp GroupParticipation) RecipientKey() string {
	id := strconv.FormatInt(gp.Group.GroupID, 10)
	if gp.Group.Clustered {
		return id + "-" + strconv.FormatInt(gp.Participation.ClusterID, 10)
	}
	return id
}

// Recipient is the broker address this member receives group messages on.
func (gp GroupParticipation) Recipient() Recipient {
	return Recipient{Class: gp.Group.Class, Key: gp.RecipientKey()}
}
