package ledger

import "github.com/brojonat/solflow/service/solana"

// ResolveAccounts expands a transaction's account space: static keys first,
// then lookup-table writable addresses, then lookup-table readonly addresses.
// Index i of the result is instruction account index i and balance index i.
// A transaction without a message resolves to an empty list.
func ResolveAccounts(tx *solana.Transaction) []string {
	if tx == nil || tx.Message == nil {
		return []string{}
	}

	n := len(tx.Message.AccountKeys)
	if tx.Meta != nil {
		n += len(tx.Meta.LoadedWritable) + len(tx.Meta.LoadedReadonly)
	}

	accounts := make([]string, 0, n)
	accounts = append(accounts, tx.Message.AccountKeys...)
	if tx.Meta != nil {
		accounts = append(accounts, tx.Meta.LoadedWritable...)
		accounts = append(accounts, tx.Meta.LoadedReadonly...)
	}
	return accounts
}

// AccountAt returns the address at index i, or false if i is out of range.
func AccountAt(accounts []string, i int) (string, bool) {
	if i < 0 || i >= len(accounts) {
		return "", false
	}
	return accounts[i], true
}
