package state

// Storage key prefixes. Every key written by the manager is the keccak256
// hash of a prefix plus the entity identifier, keeping keys fixed-width
// and collision-free across entity kinds.
var (
	accountPrefix        = []byte("custodia/account/")
	assetBalancePrefix   = []byte("custodia/asset-balance/")
	custodyRecordPrefix  = []byte("custodia/record/")
	custodyBalancePrefix = []byte("custodia/vault-balance/")
	custodyVaultPrefix   = []byte("custodia/vault/")
	counterPrefix        = []byte("custodia/counter/")
)
