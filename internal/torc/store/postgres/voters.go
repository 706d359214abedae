package postgres

import "encoding/json"

// encodeVoters/decodeVoters persist the arbitrator has-voted set as a
// JSONB object ({"addr": true, ...}) since it has no natural column
// type and the core never queries into it.
func encodeVoters(voters map[string]bool) ([]byte, error) {
	if voters == nil {
		voters = map[string]bool{}
	}
	return json.Marshal(voters)
}

func decodeVoters(data []byte) (map[string]bool, error) {
	voters := map[string]bool{}
	if len(data) == 0 {
		return voters, nil
	}
	if err := json.Unmarshal(data, &voters); err != nil {
		return nil, err
	}
	return voters, nil
}
